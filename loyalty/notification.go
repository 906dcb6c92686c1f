/*
notification.go - User and operator alerts

PURPOSE:
  Records one notification per triggering event. Emit is a pure append in
  the caller's unit of work; the row commits or aborts with the voucher or
  redemption change that caused it.

DELIVERY:
  Stored notifications are the source of truth. After a unit of work
  commits, its notifications are handed to the configured Publisher
  (Redis channel, webhook, log) on a background goroutine, so a slow
  channel never holds up the caller. Publisher failures are logged and
  never undo the committed change. Nothing is published for an aborted
  unit.

READ STATE:
  Only the read flag ever changes. A user marks their own notifications;
  an operator marks broadcasts. Marking twice is a no-op.
*/
package loyalty

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers committed notifications to an external channel.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

type NotificationFanout struct {
	*core
}

// Emit records a notification inside u. An empty target is always an
// operator broadcast.
func (f *NotificationFanout) Emit(ctx context.Context, u *UnitOfWork, target UserID, title, message string, broadcast bool) (Notification, error) {
	if target == "" {
		broadcast = true
	}

	n := Notification{
		ID:        NotificationID(uuid.NewString()),
		UserID:    target,
		Title:     title,
		Message:   message,
		Broadcast: broadcast,
		CreatedAt: u.Now,
	}
	if err := u.InsertNotification(ctx, n); err != nil {
		return Notification{}, err
	}

	u.outbox = append(u.outbox, n)
	return n, nil
}

// MarkRead flags the notification as read on behalf of caller.
func (f *NotificationFanout) MarkRead(ctx context.Context, id NotificationID, caller Caller) (Notification, error) {
	if id == "" {
		return Notification{}, invalid("notification_id", "required")
	}

	var n Notification
	err := f.atomically(ctx, "mark_notification_read", func(u *UnitOfWork) error {
		var err error
		n, err = u.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		if !canMark(n, caller) {
			return &ForbiddenError{NotificationID: id, Caller: caller}
		}
		if n.Read {
			return nil
		}
		if err := u.MarkNotificationRead(ctx, id); err != nil {
			return err
		}
		n.Read = true
		return nil
	})
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func canMark(n Notification, caller Caller) bool {
	if n.UserID != "" && n.UserID == caller.UserID {
		return true
	}
	return n.Broadcast && caller.Operator
}

// List returns matching notifications, newest first.
func (f *NotificationFanout) List(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	if !filter.Broadcasts && filter.UserID == "" {
		return nil, invalid("user_id", "required")
	}
	return f.store.ListNotifications(ctx, filter)
}

func (f *NotificationFanout) UnreadCount(ctx context.Context, filter NotificationFilter) (int, error) {
	if !filter.Broadcasts && filter.UserID == "" {
		return 0, invalid("user_id", "required")
	}
	filter.UnreadOnly = true
	return f.store.CountNotifications(ctx, filter)
}

// publish hands a committed outbox to the Publisher on its own goroutine,
// detached from the caller's cancellation. Notifications of one outbox are
// delivered in order. Engine.Wait blocks until every dispatch has returned.
func (c *core) publish(ctx context.Context, notes []Notification) {
	if c.opts.Publisher == nil || len(notes) == 0 {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PublishTimeout)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer cancel()

		for _, n := range notes {
			if err := c.opts.Publisher.Publish(pctx, n); err != nil {
				c.log.Warn("notification publish failed",
					zap.String("notification_id", string(n.ID)),
					zap.Error(err))
			}
		}
	}()
}
