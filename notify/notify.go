/*
Package notify delivers committed loyalty notifications to external
channels.

PUBLISHERS:
  Redis    PUBLISH of a JSON message on a channel, for live dashboards
  Webhook  HTTP POST of the same JSON, operator broadcasts only by default
  Log      One structured log line per notification
  Fanout   Calls several publishers, isolating panics and joining errors

  All of them satisfy loyalty.Publisher. The engine only calls them after
  the unit of work that created the notification has committed.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

// Message is the wire form shared by every channel.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Broadcast bool      `json:"broadcast"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessage(n loyalty.Notification) Message {
	return Message{
		ID:        string(n.ID),
		UserID:    string(n.UserID),
		Title:     n.Title,
		Message:   n.Message,
		Broadcast: n.Broadcast,
		CreatedAt: n.CreatedAt,
	}
}

// =============================================================================
// FANOUT
// =============================================================================

type Fanout struct {
	log        *zap.Logger
	publishers []loyalty.Publisher
}

func NewFanout(log *zap.Logger, publishers ...loyalty.Publisher) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{log: log, publishers: publishers}
}

func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Publish hands n to every publisher, even when an earlier one fails.
func (f *Fanout) Publish(ctx context.Context, n loyalty.Notification) error {
	var errs []error
	for i, p := range f.publishers {
		if err := f.safeCall(ctx, p, n); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// safeCall runs one publisher with panic recovery.
func (f *Fanout) safeCall(ctx context.Context, p loyalty.Publisher, n loyalty.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("publisher panicked",
				zap.String("notification_id", string(n.ID)),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("publisher panicked: %v", r)
		}
	}()
	return p.Publish(ctx, n)
}

// =============================================================================
// LOG
// =============================================================================

type LogPublisher struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, n loyalty.Notification) error {
	p.log.Info("notification",
		zap.String("notification_id", string(n.ID)),
		zap.String("user_id", string(n.UserID)),
		zap.Bool("broadcast", n.Broadcast),
		zap.String("title", n.Title))
	return nil
}
