package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrStopped   = errors.New("notification dispatcher stopped")
)

type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SinkTimeout time.Duration
}

// envelope carries the caller's trace context across the queue.
type envelope struct {
	intent Intent
	trace  propagation.MapCarrier
}

// Dispatcher fans intents out to every sink from a pool of workers.
type Dispatcher struct {
	sinks   []Sink
	queue   chan envelope
	cfg     DispatcherConfig
	logger  zerolog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan envelope, cfg.QueueSize),
		cfg:    cfg,
		logger: log.WithComponent("notify"),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop refuses new intents and waits for queued ones to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify enqueues without blocking. Intents that fit are kept even when a
// later one is rejected.
func (d *Dispatcher) Notify(ctx context.Context, intents ...Intent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for _, in := range intents {
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		select {
		case d.queue <- envelope{intent: in, trace: carrier}:
			metrics.NotificationQueueDepth.Inc()
		default:
			d.logger.Warn().
				Str("kind", string(in.Kind)).
				Str("appointment_id", in.AppointmentID.String()).
				Msg("notification queue full, intent dropped")
			return ErrQueueFull
		}
	}
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for env := range d.queue {
		metrics.NotificationQueueDepth.Dec()
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	in := env.intent
	base := otel.GetTextMapPropagator().Extract(context.Background(), env.trace)
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(base, d.cfg.SinkTimeout)
		err := sink.Deliver(ctx, in)
		cancel()

		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(sink.Name(), "error").Inc()
			d.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("kind", string(in.Kind)).
				Str("appointment_id", in.AppointmentID.String()).
				Msg("notification delivery failed")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
}
