package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/pzhenzhou/rediscodec/pkg/admin"
	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/metrics"
	"github.com/pzhenzhou/rediscodec/pkg/netloop"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("main")
)

type CLI struct {
	common.ClientConfig `embed:""`
	Use                 string   `help:"Endpoint name to send commands to. Defaults to the command line endpoint" name:"use"`
	Raw                 bool     `help:"Print replies without formatting" name:"raw"`
	NoColor             bool     `help:"Disable colored output" name:"no-color"`
	Command             []string `arg:"" optional:"" passthrough:"" help:"Command to run. Starts an interactive prompt when empty"`
}

// app holds everything a session needs; close releases it in reverse order.
type app struct {
	cli     *CLI
	doer    client.Doer
	target  string
	mgr     *backend.BackendManager
	engine  *netloop.Engine
	evConn  *netloop.Conn
	adminSr *admin.Server
	stop    context.CancelFunc
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rediscli"),
		kong.Description("RESP2 command line client."),
		kong.UsageOnError())
	if err := cli.Validate(); err != nil {
		kctx.FatalIfErrorf(err)
	}
	if cli.NoColor {
		color.NoColor = true
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, &cli)
	if err != nil {
		logger.Error(err, "Failed to start")
		os.Exit(1)
	}
	code := a.run(ctx, os.Stdin, os.Stdout)
	a.close()
	os.Exit(code)
}

func setup(ctx context.Context, cli *CLI) (*app, error) {
	a := &app{cli: cli}
	endpoints, err := cli.Endpoints()
	if err != nil {
		return nil, err
	}
	a.target = cli.Use
	if a.target == "" {
		a.target = cli.Endpoint.EndpointName()
	}
	a.mgr = backend.NewBackendManager(&cli.Pool, common.GlobalCredentials())
	for _, ep := range endpoints {
		if _, err := a.mgr.Register(ctx, ep); err != nil {
			a.close()
			return nil, err
		}
	}
	target, ok := lookupEndpoint(endpoints, a.target)
	if !ok {
		a.close()
		return nil, fmt.Errorf("no endpoint named %q", a.target)
	}

	switch strings.ToLower(cli.Transport.Mode) {
	case common.TransportEventLoop:
		a.engine, err = netloop.NewEngine(&cli.Transport)
		if err != nil {
			a.close()
			return nil, err
		}
		a.evConn, err = a.engine.DialEndpoint(ctx, &target, target.AuthInfo(), cli.Pool.DialTimeout)
		if err != nil {
			a.close()
			return nil, err
		}
		a.doer = a.evConn
	default:
		pool, _ := a.mgr.Get(a.target)
		a.doer = pool
	}

	var collector metrics.CommandMetricsCollector
	bgCtx, stop := context.WithCancel(ctx)
	a.stop = stop
	if cli.Metrics.EnableMetrics {
		collector, err = metrics.NewMetricsCollector(metrics.FromMetricsConfig("rediscli", &cli.Metrics))
		if err != nil {
			a.close()
			return nil, err
		}
		mw := metrics.NewCommandMetricsMiddleware(collector)
		a.doer = mw.Wrap(a.doer)
		var active func() int64
		if a.engine != nil {
			active = a.engine.Open
		}
		go mw.ReportGauges(bgCtx, 5*time.Second, a.mgr.Statuses, active)
	}
	if cli.Admin.Enable {
		web := admin.NewWebServer(&cli.Admin, a.mgr, collector, cli.Metrics.MetricsPath)
		a.adminSr = admin.NewServer(web, admin.NewRespAdmin(a.mgr))
		go func() {
			if err := a.adminSr.ListenAndServe(cli.Admin.Port); err != nil {
				logger.Error(err, "Admin server stopped")
			}
		}()
	}
	return a, nil
}

func lookupEndpoint(endpoints []common.EndpointConfig, name string) (common.EndpointConfig, bool) {
	for _, ep := range endpoints {
		if ep.EndpointName() == name {
			return ep, true
		}
	}
	return common.EndpointConfig{}, false
}

// run executes the command line command, or reads commands from in until
// EOF, QUIT or a signal. It returns the process exit code.
func (a *app) run(ctx context.Context, in io.Reader, out io.Writer) int {
	p := newPrinter(a.cli.Raw)
	if len(a.cli.Command) > 0 {
		if err := a.exec(ctx, out, p, a.cli.Command); err != nil {
			return 1
		}
		return 0
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*common.KB), int(respio.MaxBufferSize))
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	prompt := color.New(color.Bold).Sprintf("%s> ", a.target)
	for {
		fmt.Fprint(out, prompt)
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return 0
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(out)
				return 0
			}
		}
		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintln(out, p.errorLine(err.Error()))
			continue
		}
		if len(args) == 0 {
			continue
		}
		if strings.EqualFold(args[0], "quit") || strings.EqualFold(args[0], "exit") {
			return 0
		}
		_ = a.exec(ctx, out, p, args)
	}
}

// exec sends one command and prints its reply. The error is non-nil for
// transport failures and error replies alike.
func (a *app) exec(ctx context.Context, out io.Writer, p *printer, args []string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, a.cli.Timeout)
	defer cancel()
	pkt, err := a.doer.Do(cmdCtx, respio.NewCommand(args[0], args[1:]...))
	if err != nil {
		fmt.Fprintln(out, p.errorLine(describeErr(err)))
		return err
	}
	fmt.Fprintln(out, p.format(pkt))
	if pkt.IsError() {
		return &client.ServerError{Msg: string(pkt.Data)}
	}
	return nil
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the reply"
	case errors.Is(err, respio.ErrProtocol):
		return "protocol error, connection closed: " + err.Error()
	default:
		return err.Error()
	}
}

func (a *app) close() {
	if a.stop != nil {
		a.stop()
	}
	if a.adminSr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.adminSr.Shutdown(ctx)
		cancel()
	}
	if a.evConn != nil {
		_ = a.evConn.Close()
	}
	if a.engine != nil {
		_ = a.engine.Stop()
	}
	if a.mgr != nil {
		a.mgr.Close()
	}
}
