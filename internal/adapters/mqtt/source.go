package mqttsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// Device topics: pathkeeper/devices/<entity>/{fix,request,error}.
const (
	topicRoot     = "pathkeeper/devices/"
	topicFix      = "fix"
	topicRequest  = "request"
	topicError    = "error"
	listenerDepth = 8
)

// FixTopic returns the topic entityID publishes fixes on.
func FixTopic(entityID string) string { return topicRoot + entityID + "/" + topicFix }

// RequestTopic returns the topic acquisition requests for entityID go to.
func RequestTopic(entityID string) string { return topicRoot + entityID + "/" + topicRequest }

// ErrorTopic returns the topic entityID reports positioning failures on.
func ErrorTopic(entityID string) string { return topicRoot + entityID + "/" + topicError }

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Request is published to a device to ask for fixes.
type Request struct {
	Mode          string `json:"mode"` // once, watch or stop
	HighAccuracy  bool   `json:"high_accuracy"`
	TimeoutMS     int64  `json:"timeout_ms,omitempty"`
	MaxCacheAgeMS int64  `json:"max_cache_age_ms"`
}

// deviceError is the payload of an error topic message.
type deviceError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type listener struct {
	fixes chan domain.RawFix
	errs  chan error
}

// Source implements ports.PositionSource over MQTT.
type Source struct {
	client mqtt.Client
	qos    byte

	mu        sync.Mutex
	listeners map[string]map[*listener]struct{}
}

// New connects to the broker and subscribes to every device's fix and
// error topics. Subscriptions are restored on reconnect.
func New(opts Options) (*Source, error) {
	s := newSource(opts.QoS)

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetOnConnectHandler(func(c mqtt.Client) {
		filters := map[string]byte{
			topicRoot + "+/" + topicFix:   s.qos,
			topicRoot + "+/" + topicError: s.qos,
		}
		if token := c.SubscribeMultiple(filters, s.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt subscribe failed", "error", token.Error())
			return
		}
		slog.Info("mqtt subscribed to device topics")
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(co)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return s, nil
}

func newSource(qos byte) *Source {
	return &Source{qos: qos, listeners: make(map[string]map[*listener]struct{})}
}

// RequestFix asks the device for one fix and waits for the next one it reports.
func (s *Source) RequestFix(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
	l := s.listen(entityID)
	defer s.unlisten(entityID, l)

	if err := s.request(ctx, entityID, "once", opts); err != nil {
		return domain.RawFix{}, err
	}

	select {
	case f := <-l.fixes:
		return f, nil
	case err := <-l.errs:
		return domain.RawFix{}, err
	case <-ctx.Done():
		return domain.RawFix{}, ctx.Err()
	}
}

// Watch streams the device's fixes until ctx is cancelled.
func (s *Source) Watch(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error {
	l := s.listen(entityID)
	defer s.unlisten(entityID, l)

	if err := s.request(ctx, entityID, "watch", opts); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.request(stopCtx, entityID, "stop", opts); err != nil {
			slog.Debug("mqtt stop request not delivered", "entity_id", entityID, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-l.fixes:
			select {
			case fixes <- f:
			case <-ctx.Done():
				return nil
			}
		case err := <-l.errs:
			select {
			case errs <- err:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close disconnects from the broker.
func (s *Source) Close() {
	s.client.Disconnect(250)
}

func (s *Source) request(ctx context.Context, entityID, mode string, opts domain.SampleOptions) error {
	payload, err := json.Marshal(Request{
		Mode:          mode,
		HighAccuracy:  opts.HighAccuracy,
		TimeoutMS:     opts.Timeout.Milliseconds(),
		MaxCacheAgeMS: opts.MaxCacheAge.Milliseconds(),
	})
	if err != nil {
		return err
	}

	token := s.client.Publish(RequestTopic(entityID), s.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return &domain.AcquisitionError{Kind: domain.Unavailable, EntityID: entityID, Err: fmt.Errorf("publish request: %w", err)}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) listen(entityID string) *listener {
	l := &listener{
		fixes: make(chan domain.RawFix, listenerDepth),
		errs:  make(chan error, listenerDepth),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.listeners[entityID]
	if !ok {
		set = make(map[*listener]struct{})
		s.listeners[entityID] = set
	}
	set[l] = struct{}{}
	return l
}

func (s *Source) unlisten(entityID string, l *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.listeners[entityID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(s.listeners, entityID)
		}
	}
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.dispatch(msg.Topic(), msg.Payload())
}

// dispatch routes one device message to every listener of its entity.
// It never blocks the client's delivery goroutine.
func (s *Source) dispatch(topic string, payload []byte) {
	entityID, kind, ok := parseTopic(topic)
	if !ok {
		slog.Debug("ignoring mqtt message on unexpected topic", "topic", topic)
		return
	}

	var (
		fix domain.RawFix
		err error
	)
	switch kind {
	case topicFix:
		fix, err = decodeFix(entityID, payload)
		if err != nil {
			slog.Warn("undecodable device fix", "entity_id", entityID, "error", err)
			return
		}
	case topicError:
		err = decodeError(entityID, payload)
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners[entityID] {
		if kind == topicFix {
			select {
			case l.fixes <- fix:
			default:
				slog.Debug("device fix dropped, listener busy", "entity_id", entityID)
			}
			continue
		}
		select {
		case l.errs <- err:
		default:
			slog.Debug("device error dropped, listener busy", "entity_id", entityID)
		}
	}
}

func parseTopic(topic string) (entityID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, topicRoot)
	if !found {
		return "", "", false
	}
	entityID, kind, found = strings.Cut(rest, "/")
	if !found || entityID == "" || strings.Contains(kind, "/") {
		return "", "", false
	}
	return entityID, kind, true
}

func decodeFix(entityID string, payload []byte) (domain.RawFix, error) {
	var fix domain.RawFix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return domain.RawFix{}, fmt.Errorf("decode fix: %w", err)
	}
	// The topic names the entity; the payload cannot reassign it.
	fix.EntityID = entityID
	if fix.ID != "" {
		if _, err := uuid.Parse(fix.ID); err != nil {
			slog.Debug("ignoring malformed device fix id", "entity_id", entityID, "id", fix.ID)
			fix.ID = ""
		}
	}
	return fix, nil
}

func decodeError(entityID string, payload []byte) error {
	var de deviceError
	if err := json.Unmarshal(payload, &de); err != nil {
		de.Code = string(payload)
	}

	kind := domain.Unavailable
	switch domain.AcquisitionKind(de.Code) {
	case domain.PermissionDenied:
		kind = domain.PermissionDenied
	case domain.Timeout:
		kind = domain.Timeout
	}

	msg := de.Message
	if msg == "" {
		msg = de.Code
	}
	if msg == "" {
		msg = "device reported an error"
	}
	return &domain.AcquisitionError{Kind: kind, EntityID: entityID, Err: errors.New(msg)}
}
