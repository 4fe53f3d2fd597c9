// Package updater consumes row-update events from the storage queue, keeps
// the calendar read model in sync with subtask ETAs, and pushes realtime
// notifications over redis for the SSE stream.
package updater

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// Store is the slice of persistence the updater needs.
type Store interface {
	FetchSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID) (domain.Subtask, error)
	UpsertCalendarEntry(ctx context.Context, e domain.CalendarEntry) error
	DeleteCalendarEntry(ctx context.Context, studentID string, subtaskID domain.SubtaskID) error
}

// Evictor drops cached read models for a student after an out-of-band write.
type Evictor interface {
	Evict(ctx context.Context, studentID string)
}

type queueClient interface {
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Updater applies queued update events.
type Updater struct {
	queue   queueClient
	store   Store
	cache   Evictor
	rc      *redis.Client
	channel string
	logger  *log.Logger

	idle time.Duration
}

// New builds an Updater consuming the named queue. channel is the redis
// pub/sub channel realtime notifications are published on.
func New(connStr, queueName string, store Store, cache Evictor, rc *redis.Client, channel string, logger *log.Logger) (*Updater, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, err
	}
	return &Updater{
		queue:   q,
		store:   store,
		cache:   cache,
		rc:      rc,
		channel: channel,
		logger:  logger,
		idle:    time.Second,
	}, nil
}

// Run consumes the queue until the context is cancelled. Messages that fail
// to apply are left on the queue for redelivery.
func (u *Updater) Run(ctx context.Context) {
	u.logger.Info("updater.started")
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := u.queue.DequeueMessage(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			u.logger.WithError(err).Error("updater.dequeue_failed")
			u.sleep(ctx)
			continue
		}
		if len(resp.Messages) == 0 {
			u.sleep(ctx)
			continue
		}
		msg := resp.Messages[0]
		if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		if err := u.processPayload(ctx, *msg.MessageText); err != nil {
			u.logger.WithError(err).Error("updater.apply_failed")
			continue
		}
		if _, err := u.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			u.logger.WithError(err).Error("updater.delete_failed")
		}
	}
}

func (u *Updater) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(u.idle):
	}
}

// processPayload applies one event: calendar read model first, then cache
// eviction and the realtime notification. A malformed payload is dropped
// rather than retried forever.
func (u *Updater) processPayload(ctx context.Context, payload string) error {
	var ev domain.UpdateEvent
	if err := sonic.UnmarshalString(payload, &ev); err != nil {
		u.logger.WithError(err).Warn("updater.bad_payload")
		return nil
	}
	if err := u.apply(ctx, ev); err != nil {
		return err
	}
	if u.cache != nil {
		u.cache.Evict(ctx, ev.StudentID)
	}
	if u.rc != nil {
		if err := u.rc.Publish(ctx, u.channel, payload).Err(); err != nil {
			u.logger.WithError(err).WithField("student_id", ev.StudentID).Error("updater.publish_failed")
		}
	}
	return nil
}

func (u *Updater) apply(ctx context.Context, ev domain.UpdateEvent) error {
	switch ev.Type {
	case domain.EventSubtaskCreated:
		var sub domain.Subtask
		if err := sonic.Unmarshal(ev.Data, &sub); err != nil {
			u.logger.WithError(err).Warn("updater.bad_subtask_data")
			return nil
		}
		return u.syncCalendar(ctx, ev.StudentID, sub)
	case domain.EventSubtaskUpdated:
		sub, err := u.store.FetchSubtask(ctx, ev.StudentID, domain.SubtaskID(ev.EntityID))
		if err != nil {
			if isNotFound(err) {
				return u.store.DeleteCalendarEntry(ctx, ev.StudentID, domain.SubtaskID(ev.EntityID))
			}
			return err
		}
		return u.syncCalendar(ctx, ev.StudentID, sub)
	}
	// Note and student events carry no calendar impact; they still fan out.
	return nil
}

// syncCalendar mirrors the subtask's ETA into the calendar table. A subtask
// without an ETA has no calendar row.
func (u *Updater) syncCalendar(ctx context.Context, studentID string, sub domain.Subtask) error {
	if sub.ETA == "" {
		err := u.store.DeleteCalendarEntry(ctx, studentID, sub.ID)
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return u.store.UpsertCalendarEntry(ctx, domain.CalendarEntry{
		StudentID: studentID,
		Date:      sub.ETA,
		SubtaskID: sub.ID,
		Label:     sub.Name,
		Owner:     sub.Owner,
	})
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
