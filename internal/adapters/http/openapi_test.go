package http_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/pathkeeper/api"
	handler "github.com/samirrijal/pathkeeper/internal/adapters/http"
)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := (&openapi3.Loader{IsExternalRefsAllowed: false}).LoadFromData(api.OpenAPI)
	if err != nil {
		t.Fatalf("parse openapi.yaml: %v", err)
	}
	return doc
}

func TestOpenAPI_Validates(t *testing.T) {
	doc := loadOpenAPI(t)
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("openapi.yaml is invalid: %v", err)
	}
	if doc.Info.Title != "Pathkeeper API" || doc.Info.Version != "1.0.0" {
		t.Errorf("unexpected info %q %q", doc.Info.Title, doc.Info.Version)
	}
	if len(doc.Servers) == 0 {
		t.Error("expected at least one server")
	}
}

// Every route registered by SetupRoutes under /v1 and /graphql is documented.
func TestOpenAPI_DocumentsRoutes(t *testing.T) {
	doc := loadOpenAPI(t)

	routes := map[string][]string{
		"/v1/health":                     {"GET"},
		"/v1/ready":                      {"GET"},
		"/v1/fixes":                      {"POST"},
		"/v1/entities/{id}":              {"DELETE"},
		"/v1/entities/{id}/sample":       {"POST"},
		"/v1/entities/{id}/pin":          {"POST"},
		"/v1/entities/{id}/observe":      {"POST", "DELETE"},
		"/v1/entities/{id}/path":         {"GET"},
		"/v1/entities/{id}/fixes":        {"GET"},
		"/v1/entities/{id}/fixes/latest": {"GET"},
		"/v1/entities/{id}/dates":        {"GET"},
		"/v1/entities/{id}/summary":      {"GET"},
		"/v1/entities/{id}/status":       {"GET"},
		"/graphql":                       {"POST"},
	}
	for path, methods := range routes {
		item := doc.Paths.Find(path)
		if item == nil {
			t.Errorf("%s is not documented", path)
			continue
		}
		for _, m := range methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s is not documented", m, path)
			}
		}
	}

	for _, name := range []string{"RawFix", "Fix", "Path", "DateCount", "PathSummary", "TrackingStatus", "APIError", "Pagination"} {
		if doc.Components.Schemas[name] == nil {
			t.Errorf("schema %s missing", name)
		}
	}
}

// The documented error shape carries the fields errFromDomain renders.
func TestOpenAPI_ErrorShape(t *testing.T) {
	doc := loadOpenAPI(t)

	apiErr := doc.Components.Schemas["APIError"].Value
	for _, field := range []string{"success", "status", "code", "message", "hint", "request_id"} {
		if apiErr.Properties[field] == nil {
			t.Errorf("APIError missing %s", field)
		}
	}
	if doc.Paths.Find("/v1/fixes").Post.Responses.Status(422) == nil {
		t.Error("accuracy rejection (422) is not documented on POST /v1/fixes")
	}
}

func TestDocsServesEmbeddedDocument(t *testing.T) {
	app := fiber.New()
	handler.SetupDocs(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/openapi.yaml", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := readBody(t, resp.Body); string(got) != string(api.OpenAPI) {
		t.Error("served document differs from the embedded one")
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/docs", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for /docs, got %d", resp.StatusCode)
	}
}
