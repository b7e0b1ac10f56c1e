package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/pathkeeper/internal/adapters/nats"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
)

const wsPingInterval = 30 * time.Second

// wsRequest is sent by clients: {"action":"subscribe","entity_id":"truck-7"}.
// An empty entity_id means every entity.
type wsRequest struct {
	Action   string `json:"action"`
	EntityID string `json:"entity_id"`
}

// wsEvent is every frame sent to clients. Type is "path" for the
// reconciled snapshot sent on subscribe, "fix" for a live fix, and
// "status" or "error" for replies to requests.
type wsEvent struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// liveClient is one websocket connection and its NATS subscriptions.
type liveClient struct {
	conn    *websocket.Conn
	nc      *nats.Conn
	queries *usecases.QueryService
	log     *slog.Logger

	writeMu sync.Mutex
	subs    map[string]*nats.Subscription // subject -> subscription, read loop only
}

func (lc *liveClient) send(ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	return lc.conn.WriteMessage(websocket.TextMessage, data)
}

func (lc *liveClient) reply(typ, subject, message string) {
	_ = lc.send(wsEvent{Type: typ, Subject: subject, Message: message})
}

// subscribe starts relaying fixes for entityID. A single entity first
// receives its current reconciled path so the client can draw it before
// live fixes arrive.
func (lc *liveClient) subscribe(entityID string) error {
	subject := natsadapter.FixSubjectAll
	if entityID != "" {
		subject = natsadapter.FixSubject(entityID)
	}
	if _, ok := lc.subs[subject]; ok {
		lc.reply("status", subject, "already subscribed")
		return nil
	}

	sub, err := lc.nc.Subscribe(subject, func(msg *nats.Msg) {
		_ = lc.send(wsEvent{Type: "fix", Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return err
	}
	lc.subs[subject] = sub

	if entityID != "" && lc.queries != nil {
		if snapshot, err := json.Marshal(lc.queries.CurrentPath(entityID)); err == nil {
			_ = lc.send(wsEvent{Type: "path", Subject: subject, Data: snapshot})
		}
	}
	lc.reply("status", subject, "subscribed")
	return nil
}

func (lc *liveClient) unsubscribe(entityID string) {
	subject := natsadapter.FixSubjectAll
	if entityID != "" {
		subject = natsadapter.FixSubject(entityID)
	}
	sub, ok := lc.subs[subject]
	if !ok {
		lc.reply("error", subject, "not subscribed")
		return
	}
	_ = sub.Unsubscribe()
	delete(lc.subs, subject)
	lc.reply("status", subject, "unsubscribed")
}

func (lc *liveClient) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lc.writeMu.Lock()
			err := lc.conn.WriteMessage(websocket.PingMessage, nil)
			lc.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (lc *liveClient) close() {
	for _, sub := range lc.subs {
		_ = sub.Unsubscribe()
	}
}

// WebSocketHandler relays accepted fixes to connected dashboards. The
// connection starts subscribed to ?entity_id, or to every entity.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		lc := &liveClient{
			conn:    c,
			nc:      deps.NATS,
			queries: deps.Queries,
			log:     slog.With("remote_addr", c.RemoteAddr().String()),
			subs:    make(map[string]*nats.Subscription),
		}
		if lc.nc == nil {
			lc.reply("error", "", "live feed not configured")
			return
		}
		defer lc.close()

		if err := lc.subscribe(c.Query("entity_id")); err != nil {
			lc.log.Error("ws initial subscribe", "error", err)
			return
		}
		lc.log.Info("ws client connected")
		defer lc.log.Info("ws client disconnected")

		done := make(chan struct{})
		defer close(done)
		go lc.keepAlive(done)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				lc.reply("error", "", "invalid JSON")
				continue
			}
			switch req.Action {
			case "subscribe":
				if err := lc.subscribe(req.EntityID); err != nil {
					lc.reply("error", "", "subscribe failed: "+err.Error())
				}
			case "unsubscribe":
				lc.unsubscribe(req.EntityID)
			default:
				lc.reply("error", "", "unknown action: "+req.Action)
			}
		}
	}
}
