// engine.go wires the database, bus, metrics and responder behind the commands.
package analystcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/libbus"
	"github.com/contenox/analyst/libdbexec"
	"github.com/contenox/analyst/libroutine"
	"github.com/contenox/analyst/libtracker"
	"github.com/contenox/analyst/metrics"
	"github.com/contenox/analyst/modelresponder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// engine is everything a command needs besides the session itself.
type engine struct {
	cfg     localConfig
	db      libdbexec.DBManager
	bus     libbus.Messenger
	tracker libtracker.ActivityTracker
	metrics metrics.Recorder
	counter contextbundle.Counter
	closers []func() error
}

func openEngine(ctx context.Context, cfg localConfig, configPath string, trace bool) (*engine, error) {
	e := &engine{cfg: cfg, tracker: libtracker.NoopTracker{}, metrics: metrics.Nop()}
	if trace {
		e.tracker = libtracker.NewLogActivityTracker(slog.Default())
	}

	path := cfg.dbPath(configPath)
	db, err := libdbexec.NewSQLiteDBManager(ctx, path, agentsession.Schema()...)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	e.db = db
	e.closers = append(e.closers, db.Close)

	if cfg.NATSURL != "" {
		bus, err := libbus.NewNATS(ctx, cfg.NATSURL)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		e.bus = bus
	} else {
		e.bus = libbus.NewInMem()
	}
	e.closers = append(e.closers, e.bus.Close)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		e.metrics = metrics.NewPrometheusRecorder(reg)
		stop, err := serveMetrics(cfg.MetricsAddr, reg)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, stop)
	}

	counter, err := contextbundle.NewTokenCounter(cfg.TokenizerModel)
	if err != nil {
		slog.Warn("Tokenizer unavailable, estimating tokens", "model", cfg.TokenizerModel, "error", err)
	} else {
		e.counter = counter
	}
	return e, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", ln.Addr().String())
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}

// liveResponder is the Ollama model behind a circuit breaker.
func (e *engine) liveResponder() (modelresponder.Responder, error) {
	o, err := modelresponder.NewOllama(e.cfg.Ollama, e.cfg.Model, nil,
		modelresponder.WithTemperature(e.cfg.Temperature),
		modelresponder.WithOllamaTracker(e.tracker),
	)
	if err != nil {
		return nil, err
	}
	return modelresponder.WithBreaker(o, libroutine.NewRoutine(e.cfg.BreakerThreshold, e.cfg.BreakerReset)), nil
}

// session loads a persisted session or starts a new one.
func (e *engine) session(ctx context.Context, id string, opts ...agentsession.Option) (*agentsession.Session, error) {
	opts = append([]agentsession.Option{agentsession.WithBus(e.bus), agentsession.WithTracker(e.tracker)}, opts...)
	return agentsession.Load(ctx, e.db, id, opts...)
}

func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
