package natsadapter_test

import (
	"testing"

	natsadapter "github.com/samirrijal/pathkeeper/internal/adapters/nats"
)

func TestFixSubject(t *testing.T) {
	tests := []struct {
		entity string
		want   string
	}{
		{"truck-7", "pathkeeper.fix.truck-7"},
		{"fleet.a.truck 7", "pathkeeper.fix.fleet_a_truck_7"},
		{"x*>", "pathkeeper.fix.x__"},
	}
	for _, tt := range tests {
		if got := natsadapter.FixSubject(tt.entity); got != tt.want {
			t.Errorf("FixSubject(%q) = %q, want %q", tt.entity, got, tt.want)
		}
	}
}
