package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
)

// ingestRequest is the body of POST /v1/fixes. Coordinates are checked by
// the classifier so that a missing one is reported with its own code.
type ingestRequest struct {
	ID             string      `json:"id" validate:"omitempty,uuid"`
	EntityID       string      `json:"entity_id" validate:"required,max=128"`
	Latitude       *float64    `json:"latitude"`
	Longitude      *float64    `json:"longitude"`
	AccuracyMeters *float64    `json:"accuracy_meters" validate:"omitnil,gte=0"`
	CapturedAt     *time.Time  `json:"captured_at"`
	SourceKind     string      `json:"source_kind"` // ignored, always re-derived
	Address        string      `json:"address" validate:"max=512"`
	Role           domain.Role `json:"role" validate:"omitempty,oneof=start current"`
	Speed          *float64    `json:"speed" validate:"omitnil,gte=0"`
	Heading        *float64    `json:"heading" validate:"omitnil,gte=0,lt=360"`
}

func (r ingestRequest) raw() domain.RawFix {
	raw := domain.RawFix{
		ID:             r.ID,
		EntityID:       strings.TrimSpace(r.EntityID),
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.AccuracyMeters,
		Speed:          r.Speed,
		Heading:        r.Heading,
		Role:           r.Role,
		Address:        r.Address,
	}
	if r.CapturedAt != nil {
		raw.CapturedAt = r.CapturedAt.UTC()
	}
	return raw
}

// IngestFixHandler classifies and stores one fix reported by a device or
// relayed by another deployment.
func IngestFixHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ingestRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := deps.validator().Struct(req); err != nil {
			return errValidation(c, err)
		}

		fix, err := deps.Tracking.Ingest(c.UserContext(), req.raw(), c.QueryBool("allow_degraded", false))
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusCreated, fix)
	}
}

// pinRequest is the body of POST /v1/entities/:id/pin. A pin carries no
// accuracy; the server marks it manual.
type pinRequest struct {
	ID         string      `json:"id" validate:"omitempty,uuid"`
	Latitude   *float64    `json:"latitude" validate:"required"`
	Longitude  *float64    `json:"longitude" validate:"required"`
	CapturedAt *time.Time  `json:"captured_at"`
	Address    string      `json:"address" validate:"max=512"`
	Role       domain.Role `json:"role" validate:"omitempty,oneof=start current"`
}

// PinFixHandler stores an operator-placed position for an entity.
func PinFixHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req pinRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := deps.validator().Struct(req); err != nil {
			return errValidation(c, err)
		}

		raw := domain.RawFix{
			ID:        req.ID,
			EntityID:  c.Params("id"),
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Role:      req.Role,
			Address:   req.Address,
			Manual:    true,
		}
		if req.CapturedAt != nil {
			raw.CapturedAt = req.CapturedAt.UTC()
		}

		fix, err := deps.Tracking.Ingest(c.UserContext(), raw, false)
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusCreated, fix)
	}
}

// SampleHandler acquires one fix from the entity's device and ingests it.
// Query: role (start|current), timeout_ms, max_cache_age_ms, high_accuracy, allow_degraded.
func SampleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entityID := c.Params("id")
		role := domain.Role(c.Query("role"))
		if !role.Valid() {
			return newError(c, fiber.StatusBadRequest, "invalid_role", "role must be start or current")
		}

		opts := domain.DefaultSampleOptions()
		opts.HighAccuracy = c.QueryBool("high_accuracy", opts.HighAccuracy)
		if ms := c.QueryInt("timeout_ms", 0); ms > 0 {
			opts.Timeout = time.Duration(ms) * time.Millisecond
		}
		if ms := c.QueryInt("max_cache_age_ms", 0); ms > 0 {
			opts.MaxCacheAge = time.Duration(ms) * time.Millisecond
		}

		fix, err := deps.Tracking.Sample(c.UserContext(), entityID, opts, role, c.QueryBool("allow_degraded", false))
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusCreated, fix)
	}
}

// StartObservingHandler starts the sync loop for an entity, replacing any
// other observation. ?mode=background uses the slower interval.
func StartObservingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Scheduler == nil {
			return newError(c, fiber.StatusServiceUnavailable, "unavailable", "observation is not enabled")
		}
		entityID := c.Params("id")

		var err error
		switch mode := c.Query("mode", "foreground"); mode {
		case "foreground":
			err = deps.Scheduler.StartObserving(entityID)
		case "background":
			err = deps.Scheduler.StartObservingBackground(entityID)
		default:
			return newError(c, fiber.StatusBadRequest, "invalid_mode", "mode must be foreground or background")
		}
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusAccepted, deps.Tracking.Status(entityID))
	}
}

// StopObservingHandler stops the sync loop for an entity.
func StopObservingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entityID := c.Params("id")
		if deps.Scheduler == nil || !deps.Scheduler.StopObserving(entityID) {
			return errNotFound(c, fmt.Sprintf("%s is not being observed", entityID))
		}
		return writeData(c, fiber.StatusOK, deps.Tracking.Status(entityID))
	}
}

// CurrentPathHandler returns the reconciled path held in memory.
func CurrentPathHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Cache-Control", "no-store")
		return writeData(c, fiber.StatusOK, deps.Queries.CurrentPath(c.Params("id")))
	}
}

// FixesHandler serves stored fixes in one of three shapes:
//
//	?since=RFC3339          fixes captured after an instant
//	?from=RFC3339&to=...    fixes captured in an instant range
//	?start=DATE&end=DATE    fixes on calendar days in ?tz
//
// The calendar form accepts ?offset and ?limit.
func FixesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		entityID := c.Params("id")

		var (
			fixes []domain.Fix
			err   error
		)
		switch {
		case c.Query("since") != "":
			since, perr := time.Parse(time.RFC3339Nano, c.Query("since"))
			if perr != nil {
				return newError(c, fiber.StatusBadRequest, "invalid_time", "since must be RFC 3339")
			}
			if since.Unix() <= 0 {
				since = time.Time{}
			}
			fixes, err = deps.Queries.Since(ctx, entityID, since)

		case c.Query("from") != "" || c.Query("to") != "":
			from, ferr := time.Parse(time.RFC3339Nano, c.Query("from"))
			to, terr := time.Parse(time.RFC3339Nano, c.Query("to"))
			if ferr != nil || terr != nil {
				return newError(c, fiber.StatusBadRequest, "invalid_time", "from and to must both be RFC 3339")
			}
			fixes, err = deps.Queries.Between(ctx, entityID, from, to)

		default:
			loc, start, end, derr := dayRange(c, deps.DefaultTimezone)
			if derr != nil {
				return errFromDomain(c, derr)
			}
			fixes, err = deps.Queries.QueryRange(ctx, entityID, start, end, loc)
			if err == nil && (c.Query("limit") != "" || c.Query("offset") != "") {
				return paginate(c, fixes)
			}
		}
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusOK, fixes)
	}
}

// LatestFixHandler returns the most recent stored fix.
func LatestFixHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fix, err := deps.Queries.Latest(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusOK, fix)
	}
}

// AvailableDatesHandler lists the days on which an entity has fixes.
func AvailableDatesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		loc, err := usecases.LoadLocation(c.Query("tz"), deps.DefaultTimezone)
		if err != nil {
			return newError(c, fiber.StatusBadRequest, "invalid_timezone", err.Error())
		}
		dates, err := deps.Queries.ListAvailableDates(c.UserContext(), c.Params("id"), loc)
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusOK, dates)
	}
}

// SummaryHandler aggregates the fixes on a range of days.
func SummaryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		loc, start, end, err := dayRange(c, deps.DefaultTimezone)
		if err != nil {
			return errFromDomain(c, err)
		}
		summary, err := deps.Queries.Summary(c.UserContext(), c.Params("id"), start, end, loc)
		if err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusOK, summary)
	}
}

// StatusHandler reports acceptance and rejection counters for an entity.
func StatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Cache-Control", "no-store")
		return writeData(c, fiber.StatusOK, deps.Tracking.Status(c.Params("id")))
	}
}

// PurgeEntityHandler deregisters an entity and deletes its history.
func PurgeEntityHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entityID := c.Params("id")
		if deps.Scheduler != nil {
			deps.Scheduler.StopObserving(entityID)
		}
		if err := deps.Queries.Purge(c.UserContext(), entityID); err != nil {
			return errFromDomain(c, err)
		}
		return writeData(c, fiber.StatusOK, fiber.Map{"entity_id": entityID, "purged": true})
	}
}

// dayRange reads ?start, ?end and ?tz. A missing end means the start day;
// a missing start means today.
func dayRange(c *fiber.Ctx, defaultTZ string) (*time.Location, time.Time, time.Time, error) {
	loc, err := usecases.LoadLocation(c.Query("tz"), defaultTZ)
	if err != nil {
		return nil, time.Time{}, time.Time{}, &paramError{code: "invalid_timezone", msg: err.Error()}
	}

	start := time.Now().In(loc)
	if s := c.Query("start"); s != "" {
		if start, err = usecases.ParseDate(s, loc); err != nil {
			return nil, time.Time{}, time.Time{}, &paramError{code: "invalid_date", msg: "start must be YYYY-MM-DD"}
		}
	}
	end := start
	if e := c.Query("end"); e != "" {
		if end, err = usecases.ParseDate(e, loc); err != nil {
			return nil, time.Time{}, time.Time{}, &paramError{code: "invalid_date", msg: "end must be YYYY-MM-DD"}
		}
	}
	if start.After(end) {
		return nil, time.Time{}, time.Time{}, domain.ErrInvalidRange
	}
	return loc, start, end, nil
}

// paginate applies offset/limit to an already ordered list.
func paginate(c *fiber.Ctx, fixes []domain.Fix) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 500)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 5000 {
		limit = 500
	}

	total := len(fixes)
	page := []domain.Fix{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = fixes[offset:end]
	}

	pg := Pagination{Offset: offset, Limit: limit, Total: total}
	SetLinkHeaders(c, pg)
	return c.JSON(PaginatedResponse{Success: true, Data: page, Pagination: pg})
}

// errValidation renders validator failures as one 400 listing each field.
func errValidation(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errBadRequest(c, err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return newError(c, fiber.StatusBadRequest, "validation_failed", strings.Join(fields, "; "))
}
