package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	svcmetrics "PriceIntel/internal/service/metrics"
	"PriceIntel/internal/service/ratelimit"
	"PriceIntel/pkg/kafka"
	applogger "PriceIntel/pkg/logger"
)

// Sink receives dispatched events, e.g. Kafka or the websocket hub.
type Sink interface {
	Name() string
	domrepo.EventPublisher
}

type pending struct {
	sink    Sink
	ev      models.PipelineEvent
	attempt int
}

// EventDispatcher sits between the pipeline and its event sinks. It validates
// events, throttles progress chatter and buffers deliveries that failed so a
// sink outage never blocks a pipeline run.
type EventDispatcher struct {
	sinks    []Sink
	l        *applogger.Logger
	bufSize  int
	bufCh    chan pending
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	throttle *ratelimit.Limiter
	// kinds subject to the throttle; run lifecycle and alerts always pass
	throttled  map[string]bool
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
}

var _ domrepo.EventPublisher = (*EventDispatcher)(nil)

type DispatcherOption func(*EventDispatcher)

// WithBufferSize sets how many failed deliveries are held for retry.
func WithBufferSize(n int) DispatcherOption {
	return func(d *EventDispatcher) {
		if n > 0 {
			d.bufSize = n
		}
	}
}

// WithProgressThrottle caps task progress events per run.
func WithProgressThrottle(perSecond float64, burst int) DispatcherOption {
	return func(d *EventDispatcher) {
		if perSecond > 0 {
			d.throttle = ratelimit.New(perSecond, burst)
		}
	}
}

func WithRetry(max int, backoffMin, backoffMax time.Duration) DispatcherOption {
	return func(d *EventDispatcher) {
		d.maxRetries = max
		d.backoffMin = backoffMin
		d.backoffMax = backoffMax
	}
}

func NewEventDispatcher(l *applogger.Logger, sinks []Sink, opts ...DispatcherOption) *EventDispatcher {
	if l == nil {
		l = applogger.Nop()
	}
	d := &EventDispatcher{
		sinks:      sinks,
		l:          l.With(applogger.String("component", "event_dispatcher")),
		bufSize:    1000,
		stopCh:     make(chan struct{}),
		throttled:  map[string]bool{models.EventTaskDone: true},
		maxRetries: 5,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bufCh = make(chan pending, d.bufSize)
	return d
}

// Start launches background redelivery of buffered events.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			case p := <-d.bufCh:
				svcmetrics.DispatchBufferDepth.Set(float64(len(d.bufCh)))
				wait := kafka.Backoff(d.backoffMin, d.backoffMax, p.attempt)
				select {
				case <-time.After(wait):
				case <-d.stopCh:
					return
				case <-ctx.Done():
					return
				}
				if err := p.sink.PublishEvent(ctx, p.ev); err != nil {
					p.attempt++
					if p.attempt > d.maxRetries {
						svcmetrics.ObserveDispatch(p.sink.Name(), p.ev.Kind, "dropped")
						d.l.Error("event dropped after retries",
							applogger.String("sink", p.sink.Name()),
							applogger.String("kind", p.ev.Kind),
							applogger.String("run_id", p.ev.RunID),
							applogger.Error(err),
						)
						continue
					}
					d.enqueue(p)
					continue
				}
				svcmetrics.ObserveDispatch(p.sink.Name(), p.ev.Kind, "delivered")
			}
		}
	}()
}

// Stop stops redelivery. Buffered events are discarded.
func (d *EventDispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()
	close(d.stopCh)
}

// Pending reports the number of deliveries waiting for retry.
func (d *EventDispatcher) Pending() int {
	return len(d.bufCh)
}

// PublishEvent hands ev to every sink. Failed deliveries are buffered and the
// call only errors for invalid events.
func (d *EventDispatcher) PublishEvent(ctx context.Context, ev models.PipelineEvent) error {
	if err := validateEvent(ev); err != nil {
		svcmetrics.ObserveDispatch("all", ev.Kind, "invalid")
		return err
	}
	if d.throttle != nil && d.throttled[ev.Kind] && !d.throttle.Allow(ev.Kind+"|"+ev.RunID) {
		svcmetrics.ObserveDispatch("all", ev.Kind, "throttled")
		return nil
	}

	for _, s := range d.sinks {
		if err := s.PublishEvent(ctx, ev); err != nil {
			d.l.Warn("event delivery failed, buffering",
				applogger.String("sink", s.Name()),
				applogger.String("kind", ev.Kind),
				applogger.Error(err),
			)
			d.enqueue(pending{sink: s, ev: ev, attempt: 1})
			continue
		}
		svcmetrics.ObserveDispatch(s.Name(), ev.Kind, "delivered")
	}
	return nil
}

func (d *EventDispatcher) enqueue(p pending) {
	select {
	case d.bufCh <- p:
		svcmetrics.ObserveDispatch(p.sink.Name(), p.ev.Kind, "buffered")
		svcmetrics.DispatchBufferDepth.Set(float64(len(d.bufCh)))
	default:
		svcmetrics.ObserveDispatch(p.sink.Name(), p.ev.Kind, "dropped")
		d.l.Warn("event buffer full", applogger.String("sink", p.sink.Name()), applogger.String("kind", p.ev.Kind))
	}
}

func validateEvent(ev models.PipelineEvent) error {
	if ev.Kind == "" {
		return fmt.Errorf("event kind empty")
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp missing")
	}
	switch ev.Kind {
	case models.EventRunStarted, models.EventTaskDone, models.EventRunFinished:
		if ev.RunID == "" {
			return fmt.Errorf("%s event without run id", ev.Kind)
		}
	}
	return nil
}
