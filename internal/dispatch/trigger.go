package dispatch

import (
	"context"

	"github.com/rs/zerolog"
)

// Runner is anything Kick can drive. Satisfied by *Dispatcher.
type Runner interface {
	Dispatch(ctx context.Context) (int, error)
}

// Trigger serializes dispatch passes behind a small buffered channel.
// Kick is non-blocking: when a pass is already pending the signal coalesces,
// which is safe because one pass always drains all available capacity.
type Trigger struct {
	runner Runner
	logger zerolog.Logger
	ch     chan struct{}
}

func NewTrigger(runner Runner, buffer int, logger zerolog.Logger) *Trigger {
	if buffer <= 0 {
		buffer = 16
	}
	return &Trigger{
		runner: runner,
		logger: logger.With().Str("component", "dispatch_trigger").Logger(),
		ch:     make(chan struct{}, buffer),
	}
}

// Kick requests a dispatch pass without waiting for it.
func (t *Trigger) Kick() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// Run consumes kicks until ctx is cancelled. Call from a dedicated goroutine.
func (t *Trigger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ch:
			claimed, err := t.runner.Dispatch(ctx)
			if err != nil {
				t.logger.Error().Err(err).Msg("dispatch pass failed")
				continue
			}
			t.logger.Debug().Int("claimed", claimed).Msg("dispatch pass complete")
		}
	}
}
