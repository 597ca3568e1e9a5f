package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/infergate/internal/audit"
	"github.com/tutu-network/infergate/internal/dispatch"
	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/handlepool"
	"github.com/tutu-network/infergate/internal/httpbuffer"
	"github.com/tutu-network/infergate/internal/metrics"
	"github.com/tutu-network/infergate/internal/native"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/recovery"
	"github.com/tutu-network/infergate/internal/stream"
	"github.com/tutu-network/infergate/internal/transport"
	"github.com/tutu-network/infergate/internal/worker"
)

// servableAdapter is every transport.Adapter this package knows how to run
// an accept loop for — the concrete types all implement Serve(ctx), but it
// is not part of the Adapter contract itself since stdio has no accept loop
// semantics the other four share.
type servableAdapter interface {
	transport.Adapter
	Serve(ctx context.Context) error
}

// Daemon wires every core component into one running process:
// queues, handle pool, worker pool, dispatcher, streaming context, transport
// manager and adapters, the recovery supervisor, metrics and audit.
type Daemon struct {
	Config Config

	RequestQ  *queue.Ring[domain.QueueItem]
	ResponseQ *queue.Ring[domain.ResponseItem]

	Pool      *handlepool.Pool
	Runtime   native.Runtime
	Streams   *stream.Manager
	Origins   *origin.Registry
	HTTPBuf   *httpbuffer.Manager
	Dispatch  *dispatch.Dispatcher
	Workers   *worker.Pool
	Router    *transport.Router
	Transport *transport.Manager
	Recovery  *recovery.Supervisor
	Metrics   *metrics.Registry
	Audit     *audit.DB

	mu       sync.Mutex
	adapters map[domain.TransportKind]servableAdapter
	cancel   context.CancelFunc
}

// New loads config from disk and builds a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Daemon from an explicit config, wiring every
// component a running gateway needs.
func NewWithConfig(cfg Config) (*Daemon, error) {
	d := &Daemon{
		Config:   cfg,
		adapters: make(map[domain.TransportKind]servableAdapter),
	}

	d.RequestQ = queue.New[domain.QueueItem](domain.QueueSize)
	d.ResponseQ = queue.New[domain.ResponseItem](domain.QueueSize)
	d.Pool = handlepool.New()
	d.Runtime = native.NewMockRuntime()
	d.Streams = stream.NewManager()
	d.Origins = origin.NewRegistry()
	d.HTTPBuf = httpbuffer.NewManager()

	d.Metrics = metrics.NewRegistry(prometheus.DefaultRegisterer)

	if cfg.Audit.Enabled {
		db, err := audit.Open(cfg.Audit.Dir)
		if err != nil {
			log.Printf("[daemon] audit disabled: %v", err)
		} else {
			d.Audit = db
		}
	}

	var auditSink dispatch.AuditSink
	if d.Audit != nil {
		auditSink = d.Audit
	}
	d.Dispatch = dispatch.New(d.Pool, d.Runtime, d.Streams, d.Origins, auditSink)
	d.Workers = worker.New(d.RequestQ, d.ResponseQ, d.Dispatch)
	d.Workers.SetMetrics(d.Metrics)

	d.Transport = transport.NewManager(d.HTTPBuf)
	d.Streams.SetSender(d.Transport)
	d.Streams.SetCounter(d.Metrics.StreamChunksTotal)
	d.Router = transport.NewRouter(d.RequestQ, d.ResponseQ, d.Origins)
	d.Recovery = recovery.New(d)

	if err := d.buildAdapters(); err != nil {
		return nil, err
	}

	return d, nil
}

// buildAdapters constructs (but does not start) every enabled transport and
// registers it with the transport manager.
func (d *Daemon) buildAdapters() error {
	if d.Config.Stdio.Enabled {
		d.register(transport.NewStdioAdapter(d.Router, os.Stdin, os.Stdout))
	}
	if d.Config.TCP.Enabled {
		a := transport.NewTCPAdapter(d.Router)
		if err := a.Init(transport.TCPConfig{Addr: d.Config.TCP.Addr}); err != nil {
			return fmt.Errorf("init tcp transport: %w", err)
		}
		d.register(a)
	}
	if d.Config.UDP.Enabled {
		a := transport.NewUDPAdapter(d.Router)
		if err := a.Init(transport.UDPConfig{Addr: d.Config.UDP.Addr}); err != nil {
			return fmt.Errorf("init udp transport: %w", err)
		}
		d.register(a)
	}
	if d.Config.HTTP.Enabled {
		a := transport.NewHTTPAdapter(d.Router, d.HTTPBuf)
		httpCfg := transport.HTTPConfig{Addr: d.Config.HTTP.Addr, EnableMetrics: d.Config.HTTP.EnableMetrics}
		if d.Config.HTTP.EnableMetrics {
			httpCfg.MetricsHandler = promhttp.Handler()
		}
		if err := a.Init(httpCfg); err != nil {
			return fmt.Errorf("init http transport: %w", err)
		}
		d.register(a)
	}
	if d.Config.WebSocket.Enabled {
		a := transport.NewWebSocketAdapter(d.Router)
		if err := a.Init(transport.WebSocketConfig{Addr: d.Config.WebSocket.Addr, Path: d.Config.WebSocket.Path}); err != nil {
			return fmt.Errorf("init websocket transport: %w", err)
		}
		d.register(a)
	}
	return nil
}

func (d *Daemon) register(a servableAdapter) {
	d.mu.Lock()
	d.adapters[a.Kind()] = a
	d.mu.Unlock()
	d.Transport.Register(a)
}

// Serve starts every enabled transport, the worker pool, the response
// drain, and the HTTP buffer reaper, then blocks until ctx is canceled or a
// termination signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Workers.Start()
	go d.Router.RunResponseDrain(ctx)
	go d.HTTPBuf.RunReaper(ctx)
	go d.sampleQueueMetrics(ctx)

	d.mu.Lock()
	kinds := make([]domain.TransportKind, 0, len(d.adapters))
	for k := range d.adapters {
		kinds = append(kinds, k)
	}
	d.mu.Unlock()

	for _, k := range kinds {
		d.runTransport(ctx, k)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("infergate gateway up (node=%s)\n", d.Config.Node.ID)
	for _, k := range kinds {
		fmt.Printf("  transport: %s\n", k)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	d.Shutdown()
	return nil
}

// runTransport launches the adapter for kind in the background and wires
// its terminal error, if any, into the recovery supervisor.
func (d *Daemon) runTransport(ctx context.Context, kind domain.TransportKind) {
	d.mu.Lock()
	a, ok := d.adapters[kind]
	d.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		err := a.Serve(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Printf("[daemon] transport %s exited: %v", kind, err)
		d.Recovery.ReportFailure(kind, classifyFailure(err), err.Error())
	}()
}

// Restart implements recovery.Restarter: rebuild the named transport and
// launch it again. Called by the supervisor after its backoff delay.
func (d *Daemon) Restart(k domain.TransportKind) error {
	log.Printf("[daemon] restarting transport %s", k)
	var a servableAdapter
	var err error

	switch k {
	case domain.TransportStdio:
		a = transport.NewStdioAdapter(d.Router, os.Stdin, os.Stdout)
	case domain.TransportTCP:
		ta := transport.NewTCPAdapter(d.Router)
		err = ta.Init(transport.TCPConfig{Addr: d.Config.TCP.Addr})
		a = ta
	case domain.TransportUDP:
		ua := transport.NewUDPAdapter(d.Router)
		err = ua.Init(transport.UDPConfig{Addr: d.Config.UDP.Addr})
		a = ua
	case domain.TransportHTTP:
		ha := transport.NewHTTPAdapter(d.Router, d.HTTPBuf)
		httpCfg := transport.HTTPConfig{Addr: d.Config.HTTP.Addr, EnableMetrics: d.Config.HTTP.EnableMetrics}
		if d.Config.HTTP.EnableMetrics {
			httpCfg.MetricsHandler = promhttp.Handler()
		}
		err = ha.Init(httpCfg)
		a = ha
	case domain.TransportWebSocket:
		wa := transport.NewWebSocketAdapter(d.Router)
		err = wa.Init(transport.WebSocketConfig{Addr: d.Config.WebSocket.Addr, Path: d.Config.WebSocket.Path})
		a = wa
	default:
		return fmt.Errorf("unknown transport kind %v", k)
	}
	if err != nil {
		return err
	}

	d.register(a)
	d.Recovery.ReportSuccess(k)

	// Restart attempts run against a fresh background context rather than
	// the original Serve(ctx): a recovered transport should keep running
	// until the process itself shuts down, and Daemon.Shutdown tears it
	// down via d.Transport.Shutdown regardless.
	ctx := context.Background()
	go func() {
		err := a.Serve(ctx)
		if err != nil {
			log.Printf("[daemon] transport %s exited after restart: %v", k, err)
			d.Recovery.ReportFailure(k, classifyFailure(err), err.Error())
		}
	}()
	return nil
}

// classifyFailure maps a transport-level Go error to the recovery
// supervisor's failure taxonomy. Socket accept-loop errors are each
// transport's own concern, so this is a best-effort classification based
// on common net-package error shapes rather than a protocol the
// transports must obey.
func classifyFailure(err error) domain.FailureType {
	if err == nil {
		return domain.FailureUnknown
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "address already in use"):
		return domain.FailurePortConflict
	case strings.Contains(msg, "permission denied"):
		return domain.FailurePermissionDenied
	case strings.Contains(msg, "timeout"):
		return domain.FailureTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "closed"):
		return domain.FailureConnectionLost
	case strings.Contains(msg, "network"):
		return domain.FailureNetworkError
	default:
		return domain.FailureUnknown
	}
}

// sampleQueueMetrics periodically reports queue depths, handle pool
// occupancy, and HTTP buffer count so /metrics stays current even though
// those components have no natural "on change" hook of their own.
func (d *Daemon) sampleQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Metrics.RequestQueueDepth.Set(float64(d.RequestQ.Size()))
			d.Metrics.ResponseQueueDepth.Set(float64(d.ResponseQ.Size()))
			d.Metrics.HandlePoolOccupied.Set(float64(d.Pool.Count()))
			d.Metrics.HTTPBufferCount.Set(float64(d.HTTPBuf.Count()))

			d.mu.Lock()
			kinds := make([]domain.TransportKind, 0, len(d.adapters))
			for k := range d.adapters {
				kinds = append(kinds, k)
			}
			d.mu.Unlock()
			for _, k := range kinds {
				rec := d.Recovery.Record(k)
				d.Metrics.ObserveRecovery(k, rec.State)
			}
		}
	}
}

// Shutdown drains the worker pool, shuts down every transport, and closes
// the audit database. Safe to call more than once.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.Workers.Shutdown()
	d.Transport.Shutdown(context.Background())
	if d.Audit != nil {
		_ = d.Audit.Close()
	}
}
