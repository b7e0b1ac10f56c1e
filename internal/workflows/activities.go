package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/ports"
)

// EnrichmentActivities holds the activity implementations for EnrichFixWorkflow.
type EnrichmentActivities struct {
	Geocoder  ports.ReverseGeocoder
	Addresses ports.AddressWriter
}

// ReverseGeocode resolves a coordinate. A coordinate with no known address
// yields "" rather than an error so the workflow does not retry it.
func (a *EnrichmentActivities) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	address, err := a.Geocoder.ReverseGeocode(ctx, lat, lon)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reverse geocode %.5f, %.5f: %w", lat, lon, err)
	}
	return address, nil
}

// SaveAddress writes the address of a stored fix.
func (a *EnrichmentActivities) SaveAddress(ctx context.Context, fixID, address string) error {
	err := a.Addresses.SetAddress(ctx, fixID, address)
	if errors.Is(err, domain.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError("fix "+fixID+" no longer exists", "NotFound", err)
	}
	if err != nil {
		return fmt.Errorf("save address for %s: %w", fixID, err)
	}
	return nil
}
