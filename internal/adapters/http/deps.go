package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/pathkeeper/internal/adapters/postgres"
	"github.com/samirrijal/pathkeeper/internal/adapters/valkey"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Tracking        *usecases.TrackingService
	Queries         *usecases.QueryService
	Scheduler       *usecases.Scheduler
	NATS            *nats.Conn
	DB              *postgres.DB
	Cache           *valkey.Cache
	DefaultTimezone string
	Validate        *validator.Validate
}

func (d *Dependencies) validator() *validator.Validate {
	if d.Validate == nil {
		d.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return d.Validate
}
