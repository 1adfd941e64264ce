package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/panjf2000/gnet/v2"
)

const (
	TransportNet       = "net"
	TransportEventLoop = "event-loop"
)

type EndpointConfig struct {
	Name     string `help:"Logical endpoint name. Defaults to redis.<host>.<port>" name:"name" yaml:"name" json:"name"`
	Host     string `help:"Redis server host" name:"host" default:"127.0.0.1" yaml:"host" json:"host"`
	Port     int    `help:"Redis server port" name:"port" default:"6379" yaml:"port" json:"port"`
	Username string `help:"ACL username sent with AUTH" name:"user" yaml:"user" json:"user,omitempty"`
	Password string `help:"Password sent with AUTH" name:"pass" yaml:"pass" json:"pass,omitempty"`
	Index    int    `help:"Database index selected after connecting" name:"index" default:"0" yaml:"index" json:"index"`
}

// EndpointName returns the explicit name, or redis.<host>.<port>.
func (e *EndpointConfig) EndpointName() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("redis.%s.%d", e.Host, e.Port)
}

func (e *EndpointConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e *EndpointConfig) AuthInfo() *AuthInfo {
	if e.Password == "" {
		return nil
	}
	auth := &AuthInfo{Password: []byte(e.Password)}
	if e.Username != "" {
		auth.Username = []byte(e.Username)
	}
	return auth
}

// ApplyDefaults fills the values a map or YAML loaded endpoint may omit.
func (e *EndpointConfig) ApplyDefaults() {
	if e.Host == "" {
		e.Host = "127.0.0.1"
	}
	if e.Port == 0 {
		e.Port = DefaultRedisPort
	}
}

func (e *EndpointConfig) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint %q: empty host", e.EndpointName())
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint %q: invalid port number: %d", e.EndpointName(), e.Port)
	}
	if e.Index < 0 {
		return fmt.Errorf("endpoint %q: invalid database index: %d", e.EndpointName(), e.Index)
	}
	if e.Username != "" && e.Password == "" {
		return fmt.Errorf("endpoint %q: username requires a password", e.EndpointName())
	}
	return nil
}

type PoolConfig struct {
	IsFixed         bool          `help:"Fixed size pool with key affinity" name:"fixed" default:"false"`
	MaxSize         int           `help:"Maximum size of the connection pool" name:"max-size" default:"16"`
	MaxIdle         int           `help:"Maximum idle connections kept in the pool" name:"max-idle" default:"8"`
	MinIdle         int           `help:"Minimum idle connections kept in the pool" name:"min-idle" default:"0"`
	WaitTimeout     time.Duration `help:"How long Get waits for a free slot" name:"wait-timeout" default:"1s"`
	DialTimeout     time.Duration `help:"Dial timeout for new connections" name:"dial-timeout" default:"3s"`
	ConnMaxLifetime time.Duration `help:"Close connections older or idler than this. 0 disables" name:"max-lifetime" default:"0s"`
	Balance         string        `help:"Connection choice for keyless commands in the fixed pool (random, round-robin)" name:"balance" default:"random"`
}

func (p *PoolConfig) Validate() error {
	if p.MaxSize <= 0 {
		return fmt.Errorf("invalid pool max size: %d", p.MaxSize)
	}
	if p.MaxIdle < 0 || p.MinIdle < 0 || p.MinIdle > p.MaxSize {
		return fmt.Errorf("invalid pool idle bounds: min=%d max=%d", p.MinIdle, p.MaxIdle)
	}
	switch strings.ToLower(p.Balance) {
	case "", "random", "round-robin":
	default:
		return fmt.Errorf("invalid pool balance: %s (must be 'random' or 'round-robin')", p.Balance)
	}
	return nil
}

type TransportConfig struct {
	Mode      string `help:"Transport used to talk to the server (net, event-loop)" name:"mode" default:"net"`
	MultiCore bool   `help:"Enable multi-core event loops" name:"multicore" default:"false"`
	CoreNum   int    `help:"Number of event loops to use" name:"loops" default:"0"`
}

func (t *TransportConfig) Validate() error {
	switch strings.ToLower(t.Mode) {
	case TransportNet, TransportEventLoop:
		return nil
	default:
		return fmt.Errorf("invalid transport mode: %s (must be 'net' or 'event-loop')", t.Mode)
	}
}

func (t *TransportConfig) GNetOptions() []gnet.Option {
	var ops []gnet.Option
	if t.MultiCore {
		ops = append(ops, gnet.WithMulticore(true))
	}
	if t.CoreNum > 0 {
		ops = append(ops, gnet.WithNumEventLoop(t.CoreNum))
	}
	return ops
}

type MetricsConfig struct {
	EnableMetrics   bool   `help:"Enable metrics collection" name:"enable" default:"false"`
	MetricsPath     string `help:"Metrics path" name:"path" default:"/metrics"`
	MetricsSinkType string `help:"Metrics sink type. support prometheus and in-memory." name:"sink" default:"in-memory"`
}

type AdminConfig struct {
	Enable      bool `help:"Serve the admin HTTP endpoints" name:"enable" default:"false"`
	Port        int  `help:"Admin HTTP port" name:"port" default:"7080"`
	EnablePprof bool `help:"Enable pprof on the admin server" name:"pprof" default:"false"`
}

type ClientConfig struct {
	Endpoint      EndpointConfig  `embed:"" prefix:"endpoint."`
	EndpointsFile string          `help:"YAML file with additional endpoints" name:"endpoints-file" type:"path"`
	Timeout       time.Duration   `help:"Per command timeout" name:"timeout" default:"5s"`
	Pool          PoolConfig      `embed:"" prefix:"pool."`
	Transport     TransportConfig `embed:"" prefix:"transport."`
	Metrics       MetricsConfig   `embed:"" prefix:"metrics."`
	Admin         AdminConfig     `embed:"" prefix:"admin."`
}

func (c *ClientConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid command timeout: %s", c.Timeout)
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if c.Admin.Enable && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port number: %d", c.Admin.Port)
	}
	return c.Transport.Validate()
}

// Endpoints returns the command line endpoint followed by the ones loaded
// from EndpointsFile.
func (c *ClientConfig) Endpoints() ([]EndpointConfig, error) {
	endpoints := []EndpointConfig{c.Endpoint}
	if c.EndpointsFile == "" {
		return endpoints, nil
	}
	loaded, err := LoadEndpoints(c.EndpointsFile)
	if err != nil {
		return nil, err
	}
	return append(endpoints, loaded...), nil
}
