package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
	"github.com/samirrijal/pathkeeper/internal/pkg/resilience"
	"github.com/samirrijal/pathkeeper/internal/pkg/telemetry"
)

// envelope is the body of every remote response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// fixBody is the ingest request accepted by POST /v1/fixes.
type fixBody struct {
	ID             string      `json:"id,omitempty"`
	EntityID       string      `json:"entity_id"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	AccuracyMeters float64     `json:"accuracy_meters"`
	CapturedAt     *time.Time  `json:"captured_at,omitempty"`
	SourceKind     string      `json:"source_kind"`
	Address        string      `json:"address,omitempty"`
	Role           domain.Role `json:"role,omitempty"`
	Speed          *float64    `json:"speed,omitempty"`
	Heading        *float64    `json:"heading,omitempty"`
}

// RejectedError is returned when the remote store refuses a fix.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected request (%d %s): %s", e.Status, e.Code, e.Message)
}

// Client implements ports.PathStore, ports.AvailabilityIndex and
// ports.PathPurger against another deployment's REST API.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

// New creates a client for the store at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		breaker: resilience.NewBreaker[*resty.Response](resilience.DefaultBreakerConfig("remote-store")),
	}
}

func (c *Client) Append(ctx context.Context, fix *domain.Fix) error {
	body := fixBody{
		ID:             fix.ID,
		EntityID:       fix.EntityID,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: fix.AccuracyMeters,
		SourceKind:     string(fix.SourceKind),
		Address:        fix.Address,
		Role:           fix.Role,
		Speed:          fix.Speed,
		Heading:        fix.Heading,
	}
	if fix.HasTimestamp() {
		t := fix.CapturedAt
		body.CapturedAt = &t
	}

	resp, err := c.do(ctx, "append", func(r *resty.Request) (*resty.Response, error) {
		// Manual fixes carry no usable accuracy and go through the pin endpoint.
		if fix.SourceKind == domain.SourceManual {
			return r.SetPathParam("id", fix.EntityID).SetBody(body).Post("/v1/entities/{id}/pin")
		}
		if fix.Degraded {
			r.SetQueryParam("allow_degraded", "true")
		}
		return r.SetBody(body).Post("/v1/fixes")
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

func (c *Client) FetchRange(ctx context.Context, entityID string, from, to time.Time) ([]domain.Fix, error) {
	resp, err := c.do(ctx, "fetch_range", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", entityID).
			SetQueryParam("from", from.UTC().Format(time.RFC3339Nano)).
			SetQueryParam("to", to.UTC().Format(time.RFC3339Nano)).
			Get("/v1/entities/{id}/fixes")
	})
	if err != nil {
		return nil, err
	}
	var fixes []domain.Fix
	if err := decode(resp, &fixes); err != nil {
		return nil, err
	}
	return fixes, nil
}

func (c *Client) FetchSince(ctx context.Context, entityID string, since time.Time) ([]domain.Fix, error) {
	resp, err := c.do(ctx, "fetch_since", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", entityID).
			SetQueryParam("since", since.UTC().Format(time.RFC3339Nano)).
			Get("/v1/entities/{id}/fixes")
	})
	if err != nil {
		return nil, err
	}
	var fixes []domain.Fix
	if err := decode(resp, &fixes); err != nil {
		return nil, err
	}
	return fixes, nil
}

func (c *Client) Latest(ctx context.Context, entityID string) (*domain.Fix, error) {
	resp, err := c.do(ctx, "latest", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", entityID).Get("/v1/entities/{id}/fixes/latest")
	})
	if err != nil {
		return nil, err
	}
	var fix domain.Fix
	if err := decode(resp, &fix); err != nil {
		return nil, err
	}
	return &fix, nil
}

func (c *Client) CountByDate(ctx context.Context, entityID string, loc *time.Location) ([]domain.DateCount, error) {
	if loc == nil {
		loc = time.UTC
	}
	resp, err := c.do(ctx, "count_by_date", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", entityID).
			SetQueryParam("tz", loc.String()).
			Get("/v1/entities/{id}/dates")
	})
	if err != nil {
		return nil, err
	}
	var dates []domain.DateCount
	if err := decode(resp, &dates); err != nil {
		return nil, err
	}
	return dates, nil
}

func (c *Client) PurgeEntity(ctx context.Context, entityID string) error {
	resp, err := c.do(ctx, "purge", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", entityID).Delete("/v1/entities/{id}")
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// do runs one request through the breaker. Server errors count as
// breaker failures; client errors are returned for decode to interpret.
func (c *Client) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRemoteRequest)
	defer span.End()
	span.SetAttributes(attribute.String("remote.op", op))

	start := time.Now()
	defer func() {
		metrics.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := send(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if resilience.IsOpen(err) {
			return nil, fmt.Errorf("remote store unavailable: %w", err)
		}
		return nil, fmt.Errorf("remote %s: %w", op, err)
	}
	return resp, nil
}

func decode(resp *resty.Response, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil && resp.IsSuccess() {
		return fmt.Errorf("decode remote response: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.IsError() || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = resp.Status()
		}
		return &RejectedError{Status: resp.StatusCode(), Code: env.Code, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode remote data: %w", err)
	}
	return nil
}

// IsRejected reports whether err is a refusal by the remote store.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
