package telemetry

// Instrumentation names shared by spans across packages.
const (
	TracerName = "pathkeeper"

	// Spans
	SpanSyncTick      = "sync.tick"
	SpanEnrich        = "enrich"
	SpanGeocode       = "geocode.reverse"
	SpanRemoteRequest = "remote.request"

	// Attributes
	AttrEntityID = "pathkeeper.entity_id"
	AttrFixCount = "pathkeeper.fix_count"
)
