package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/pathkeeper/internal/adapters/valkey"
)

const readyTimeout = 3 * time.Second

// probe is one dependency checked by /v1/ready. A nil check means the
// dependency is not configured in this deployment.
type probe struct {
	name  string
	check func(ctx context.Context) error
}

func (d *Dependencies) probes() []probe {
	probes := []probe{{name: "database"}, {name: "nats"}, {name: "cache"}}
	if d.DB != nil {
		probes[0].check = d.DB.Pool.Ping
	}
	if d.NATS != nil {
		probes[1].check = func(context.Context) error {
			if !d.NATS.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if d.Cache != nil {
		probes[2].check = func(ctx context.Context) error {
			if err := d.Cache.Ping(ctx); err != nil && !valkey.IsMiss(err) {
				return err
			}
			return nil
		}
	}
	return probes
}

// HealthHandler reports liveness and, when one is running, the entity
// currently under observation.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
			"version": apiVersion,
		}
		if deps.Scheduler != nil {
			if id, observing := deps.Scheduler.Observed(); observing {
				body["observing"] = id
			}
		}
		return c.JSON(body)
	}
}

// ReadyHandler runs every configured probe. A deployment that relays to a
// remote store has no database and reports it as not configured.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
		defer cancel()

		checks := make(map[string]string)
		ready := true
		for _, p := range deps.probes() {
			switch err := runProbe(ctx, p); {
			case p.check == nil:
				checks[p.name] = "not configured"
			case err != nil:
				checks[p.name] = "error: " + err.Error()
				ready = false
			default:
				checks[p.name] = "ok"
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": checks})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": checks})
	}
}

func runProbe(ctx context.Context, p probe) error {
	if p.check == nil {
		return nil
	}
	return p.check(ctx)
}
