package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

const (
	ErrKindServer    = "server"
	ErrKindShape     = "shape"
	ErrKindConflict  = "conflict"
	ErrKindProtocol  = "protocol"
	ErrKindTooLarge  = "too_large"
	ErrKindTimeout   = "timeout"
	ErrKindCanceled  = "canceled"
	ErrKindTransport = "transport"
	ErrKindPool      = "pool"
	ErrKindOther     = "other"
)

// ErrorKind buckets a command failure for the error counter.
func ErrorKind(err error) string {
	switch {
	case client.IsServerError(err):
		return ErrKindServer
	case errors.Is(err, client.ErrShapeMismatch):
		return ErrKindShape
	case errors.Is(err, client.ErrConflict):
		return ErrKindConflict
	case errors.Is(err, respio.ErrProtocol):
		return ErrKindProtocol
	case errors.Is(err, respio.ErrTooLarge):
		return ErrKindTooLarge
	case errors.Is(err, backend.ErrPoolTimeout), errors.Is(err, backend.ErrPoolExhausted):
		return ErrKindPool
	case errors.Is(err, context.Canceled):
		return ErrKindCanceled
	case common.IsTimeout(err):
		return ErrKindTimeout
	case common.IsBackendUnavailable(err), errors.Is(err, backend.ErrClosed):
		return ErrKindTransport
	default:
		return ErrKindOther
	}
}

// CommandMetricsMiddleware provides metrics collection for the command path
type CommandMetricsMiddleware struct {
	collector            CommandMetricsCollector
	recordCommandLatency bool // Controls whether to record per-command latency metrics
}

func NewCommandMetricsMiddleware(collector CommandMetricsCollector) *CommandMetricsMiddleware {
	return &CommandMetricsMiddleware{
		collector:            collector,
		recordCommandLatency: true,
	}
}

func (m *CommandMetricsMiddleware) GetCollector() CommandMetricsCollector {
	return m.collector
}

// SetRecordCommandLatency enables or disables command-based latency recording
func (m *CommandMetricsMiddleware) SetRecordCommandLatency(enable bool) {
	m.recordCommandLatency = enable
}

func (m *CommandMetricsMiddleware) TrackCommand(command string) {
	m.collector.IncrementCommandCounter(command)
}

// TrackLatency records the round trip of command started at start.
func (m *CommandMetricsMiddleware) TrackLatency(command string, start time.Time) {
	duration := time.Since(start)
	if m.recordCommandLatency {
		m.collector.RecordCommandLatency(command, duration)
	}
	m.collector.RecordOverallLatency(duration)
}

func (m *CommandMetricsMiddleware) TrackError(err error) {
	m.collector.IncrementErrorCounter(ErrorKind(err))
}

// WrapDo runs one round trip with metrics. Error replies count as server
// errors even though the transport call itself succeeded.
func (m *CommandMetricsMiddleware) WrapDo(cmd *respio.Command, fn func() (*respio.RespPacket, error)) (*respio.RespPacket, error) {
	command := cmd.Name()
	m.TrackCommand(command)
	start := time.Now()
	pkt, err := fn()
	m.TrackLatency(command, start)
	switch {
	case err != nil:
		m.TrackError(err)
	case pkt.IsError():
		m.collector.IncrementErrorCounter(ErrKindServer)
	}
	return pkt, err
}

// Wrap returns a Doer that records every command sent through next.
func (m *CommandMetricsMiddleware) Wrap(next client.Doer) client.Doer {
	return &meteredDoer{m: m, next: next}
}

type meteredDoer struct {
	m    *CommandMetricsMiddleware
	next client.Doer
}

var _ client.Pinner = (*meteredDoer)(nil)

func (d *meteredDoer) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	return d.m.WrapDo(cmd, func() (*respio.RespPacket, error) {
		return d.next.Do(ctx, cmd)
	})
}

// Pin keeps transactions metered. A next that cannot pin is returned as is,
// which is what Transaction does with an unpinnable Doer anyway.
func (d *meteredDoer) Pin(ctx context.Context) (client.Doer, func(), error) {
	pinner, ok := d.next.(client.Pinner)
	if !ok {
		return d, func() {}, nil
	}
	conn, release, err := pinner.Pin(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &meteredDoer{m: d.m, next: conn}, release, nil
}

// ReportGauges publishes pool and connection gauges every interval until ctx
// is done. Either source may be nil.
func (m *CommandMetricsMiddleware) ReportGauges(ctx context.Context, interval time.Duration,
	pools func() []*backend.PoolStatus, active func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if pools != nil {
			for _, st := range pools() {
				m.collector.RecordPoolStatus(st)
			}
		}
		if active != nil {
			m.collector.SetActiveConnections(active())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
