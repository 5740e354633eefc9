package viciadapter

import (
	"context"
	"fmt"

	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/apperrors"
)

// RawEvent is one VICI event delivery: the subscribed event name (e.g.
// "ike-updown") and its message payload.
type RawEvent struct {
	Name    string
	Message *vici.Message
}

// eventStream is the narrow surface of govici's event subscription this
// package depends on. NOTE: this is the single most uncertain integration
// point in the adapter — govici's public event-subscription shape is not
// directly exercised anywhere in the reference corpus beyond go.mod, so
// this models the documented VICI "event listen" semantics (subscribe to
// named events, then pull deliveries until cancelled) as a narrow
// interface, isolated to this file so it is easy to reconcile against the
// real library surface. See DESIGN.md.
type eventStream interface {
	Next(ctx context.Context) (string, *vici.Message, error)
	Close() error
}

type viciSubscriber interface {
	Listen(events ...string) (eventStream, error)
}

// subscriberAdapter wraps a *vici.Session to satisfy viciSubscriber.
type subscriberAdapter struct {
	sess *vici.Session
}

func (s subscriberAdapter) Listen(events ...string) (eventStream, error) {
	sub, err := s.sess.Listen(events...)
	if err != nil {
		return nil, err
	}
	return viciStreamAdapter{sub: sub}, nil
}

// viciStreamAdapter adapts govici's subscription type to eventStream.
type viciStreamAdapter struct {
	sub *vici.Subscription
}

func (a viciStreamAdapter) Next(ctx context.Context) (string, *vici.Message, error) {
	ev, err := a.sub.NextEvent(ctx)
	if err != nil {
		return "", nil, err
	}
	return ev.Name, ev.Message, nil
}

func (a viciStreamAdapter) Close() error {
	return a.sub.Unsubscribe()
}

// Subscribe opens a VICI event subscription for the given event names and
// streams deliveries onto the returned channel until ctx is cancelled or
// the session drops. The channel is closed on exit.
func (a *Adapter) Subscribe(ctx context.Context, events ...string) (<-chan RawEvent, error) {
	sess, err := a.ensureReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}
	rawSess, ok := sess.(*vici.Session)
	if !ok {
		return nil, fmt.Errorf("%w: session does not support event subscription", apperrors.ErrHostAPIFailure)
	}

	stream, err := subscriberAdapter{sess: rawSess}.Listen(events...)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %v: %v", apperrors.ErrHostAPIFailure, events, err)
	}

	out := make(chan RawEvent, 64)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			name, msg, err := stream.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- RawEvent{Name: name, Message: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
