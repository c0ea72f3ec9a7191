// Package alert implements notification dispatching to pluggable sinks.
// Delivery is best-effort: sink failures are logged and never propagate back
// into the rule engine, and sinks never call back into the engine or the
// registry.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/vigil-systems/vigil/pkg/types"
)

// Sink is a notification destination.
type Sink interface {
	Send(ctx context.Context, n types.Notification) error
	Name() string
}

// Func is the callback shape the engine pushes notifications through.
type Func func(types.Notification)

// Dispatcher routes notifications to every configured sink.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from notifier configs.
func NewDispatcher(configs []types.NotifierConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// Dispatch stamps the notification with a unique ID and sends it to all
// sinks. Errors are logged per sink; one sink's failure never blocks another.
func (d *Dispatcher) Dispatch(ctx context.Context, n types.Notification) {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, n); err != nil {
			d.logger.Error("notification delivery failed",
				"sink", sink.Name(), "rule", n.RuleName, "state", string(n.State), "error", err)
		}
	}
}

// Func returns a callback suitable for the engine's notify hook.
func (d *Dispatcher) Func() Func {
	return func(n types.Notification) {
		d.Dispatch(context.Background(), n)
	}
}

func newSink(cfg types.NotifierConfig) (Sink, error) {
	switch cfg.Type {
	case types.NotifierConsole:
		return NewConsoleSink(), nil
	case types.NotifierWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.NotifierFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}
