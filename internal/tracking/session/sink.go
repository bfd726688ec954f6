package session

import (
	"context"
	"errors"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

// Sink receives session output. Implementations are called from the session
// goroutine and may block; a returned error stops the session.
type Sink interface {
	OnFrame(ctx context.Context, res FrameResult) error
	OnEvent(ctx context.Context, match string, ev trajectory.Event) error
}

// MatchEvent is an event tagged with its match.
type MatchEvent struct {
	Match string
	Event trajectory.Event
}

// ChannelSink forwards results and events to channels. A nil channel
// discards that kind of output.
type ChannelSink struct {
	Frames chan<- FrameResult
	Events chan<- MatchEvent
}

// OnFrame implements Sink.
func (c ChannelSink) OnFrame(ctx context.Context, res FrameResult) error {
	if c.Frames == nil {
		return nil
	}
	select {
	case c.Frames <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEvent implements Sink.
func (c ChannelSink) OnEvent(ctx context.Context, match string, ev trajectory.Event) error {
	if c.Events == nil {
		return nil
	}
	select {
	case c.Events <- MatchEvent{Match: match, Event: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MultiSink fans output out to every sink in order.
type MultiSink []Sink

// OnFrame implements Sink.
func (m MultiSink) OnFrame(ctx context.Context, res FrameResult) error {
	var errs []error
	for _, s := range m {
		if err := s.OnFrame(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnEvent implements Sink.
func (m MultiSink) OnEvent(ctx context.Context, match string, ev trajectory.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.OnEvent(ctx, match, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
