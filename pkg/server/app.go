package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "PriceIntel/pkg/http"
	applogger "PriceIntel/pkg/logger"
)

// Component is a background service with a start/stop lifecycle.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ComponentFunc adapts plain start and stop functions; either may be nil.
type ComponentFunc struct {
	ID      string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (c ComponentFunc) Name() string { return c.ID }

func (c ComponentFunc) Start(ctx context.Context) error {
	if c.StartFn == nil {
		return nil
	}
	return c.StartFn(ctx)
}

func (c ComponentFunc) Stop(ctx context.Context) error {
	if c.StopFn == nil {
		return nil
	}
	return c.StopFn(ctx)
}

// App owns the HTTP server and the background components. Components start
// in registration order and stop in reverse; closers run last.
type App struct {
	l               *applogger.Logger
	http            *xhttp.Server
	components      []Component
	closers         []ComponentFunc
	shutdownTimeout time.Duration
}

func New(l *applogger.Logger, httpServer *xhttp.Server, shutdownTimeout time.Duration) *App {
	if l == nil {
		l = applogger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{l: l, http: httpServer, shutdownTimeout: shutdownTimeout}
}

func (a *App) Add(c Component) { a.components = append(a.components, c) }

// OnClose registers infrastructure to release after every component stopped.
func (a *App) OnClose(name string, fn func() error) {
	a.closers = append(a.closers, ComponentFunc{ID: name, StopFn: func(context.Context) error { return fn() }})
}

// Components lists registered component names in start order.
func (a *App) Components() []string {
	out := make([]string, 0, len(a.components))
	for _, c := range a.components {
		out = append(out, c.Name())
	}
	return out
}

// Run starts everything and blocks until ctx is done or SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started, err := a.start(ctx)
	if err != nil {
		a.stop(started)
		return err
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			a.stop(started)
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.l.Info("application started", applogger.Strings("components", a.Components()))

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown(started)
}

func (a *App) start(ctx context.Context) ([]Component, error) {
	started := make([]Component, 0, len(a.components))
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			return started, fmt.Errorf("start %s: %w", c.Name(), err)
		}
		a.l.Info("component started", applogger.String("component", c.Name()))
		started = append(started, c)
	}
	return started, nil
}

func (a *App) shutdown(started []Component) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.stopWith(ctx, started)...)
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) stop(started []Component) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	a.stopWith(ctx, started)
}

func (a *App) stopWith(ctx context.Context, started []Component) []error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := c.Stop(ctx); err != nil {
			a.l.Warn("component stop error", applogger.String("component", c.Name()), applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Stop(ctx); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.Name()), applogger.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}
