package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// UpdateBroker fans row-update notifications out to SSE subscribers, keyed by
// student so a connection only sees its own student's updates.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.UpdateEvent]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[string]map[chan domain.UpdateEvent]struct{})}
}

func (b *UpdateBroker) subscribe(studentID string) chan domain.UpdateEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.UpdateEvent, 10)
	if b.subs[studentID] == nil {
		b.subs[studentID] = make(map[chan domain.UpdateEvent]struct{})
	}
	b.subs[studentID][ch] = struct{}{}
	return ch
}

func (b *UpdateBroker) unsubscribe(studentID string, ch chan domain.UpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[studentID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, studentID)
		}
	}
}

// Notify delivers the event to every subscriber of its student. Slow
// subscribers are skipped rather than blocked on.
func (b *UpdateBroker) Notify(ev domain.UpdateEvent) {
	b.mu.Lock()
	subs := b.subs[ev.StudentID]
	b.mu.Unlock()
	for ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscribeUpdates listens on the redis notification channel and forwards
// events into the broker. It reconnects on pubsub failure until the context
// is cancelled.
func (b *UpdateBroker) SubscribeUpdates(ctx context.Context, rc *redis.Client, channel string, logger *log.Logger) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.UpdateEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("stream.update_parse_failed")
					continue
				}
				b.Notify(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("stream.pubsub_closed_reconnecting")
		time.Sleep(time.Second)
	}
}

const streamHeartbeat = 30 * time.Second

func streamUpdates(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may ride a query param.
		header := authHeader(c)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(header)
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		ctx := c.Request().Context()
		studentID := c.Param("id")
		if _, err := cfg.Store.FetchStudent(ctx, counsellorID, studentID); err != nil {
			if isNotFound(err) {
				return jsonError(c, http.StatusNotFound, "student not found")
			}
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return jsonError(c, http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		// Initial comment so the client sees headers immediately.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch := cfg.Broker.subscribe(studentID)
		defer cfg.Broker.unsubscribe(studentID, ch)

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev := <-ch:
				data, err := sonic.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
