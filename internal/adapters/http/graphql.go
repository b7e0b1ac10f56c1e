package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/pathkeeper/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services.
// Struct fields resolve through their json tags.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	fixType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Fix",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.String},
			"entity_id":       &graphql.Field{Type: graphql.String},
			"latitude":        &graphql.Field{Type: graphql.Float},
			"longitude":       &graphql.Field{Type: graphql.Float},
			"accuracy_meters": &graphql.Field{Type: graphql.Float},
			"captured_at":     &graphql.Field{Type: graphql.DateTime},
			"source_kind":     &graphql.Field{Type: graphql.String},
			"degraded":        &graphql.Field{Type: graphql.Boolean},
			"address":         &graphql.Field{Type: graphql.String},
			"role":            &graphql.Field{Type: graphql.String},
			"speed":           &graphql.Field{Type: graphql.Float},
			"heading":         &graphql.Field{Type: graphql.Float},
		},
	})

	pathType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Path",
		Fields: graphql.Fields{
			"entity_id": &graphql.Field{Type: graphql.String},
			"fixes":     &graphql.Field{Type: graphql.NewList(fixType)},
		},
	})

	dateCountType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DateCount",
		Fields: graphql.Fields{
			"date":  &graphql.Field{Type: graphql.String},
			"count": &graphql.Field{Type: graphql.Int},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	summaryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PathSummary",
		Fields: graphql.Fields{
			"entity_id":       &graphql.Field{Type: graphql.String},
			"fix_count":       &graphql.Field{Type: graphql.Int},
			"degraded_count":  &graphql.Field{Type: graphql.Int},
			"first":           &graphql.Field{Type: graphql.DateTime},
			"last":            &graphql.Field{Type: graphql.DateTime},
			"distance_meters": &graphql.Field{Type: graphql.Float},
			"bounds":          &graphql.Field{Type: boundsType},
		},
	})

	statusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TrackingStatus",
		Fields: graphql.Fields{
			"entity_id":        &graphql.Field{Type: graphql.String},
			"observing":        &graphql.Field{Type: graphql.Boolean},
			"accepted_count":   &graphql.Field{Type: graphql.Int},
			"rejected_count":   &graphql.Field{Type: graphql.Int},
			"last_accepted_at": &graphql.Field{Type: graphql.DateTime},
			"last_rejected_at": &graphql.Field{Type: graphql.DateTime},
			"last_rejection":   &graphql.Field{Type: graphql.String},
			"last_sync_error":  &graphql.Field{Type: graphql.String},
			"future_fix_count": &graphql.Field{Type: graphql.Int},
		},
	})

	entityArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}
	dayArgs := graphql.FieldConfigArgument{
		"entity_id": entityArg,
		"start":     &graphql.ArgumentConfig{Type: graphql.String, Description: "YYYY-MM-DD, default today"},
		"end":       &graphql.ArgumentConfig{Type: graphql.String, Description: "YYYY-MM-DD, default start"},
		"tz":        &graphql.ArgumentConfig{Type: graphql.String},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"path": &graphql.Field{
				Type:        pathType,
				Description: "Reconciled in-memory path of an entity",
				Args:        graphql.FieldConfigArgument{"entity_id": entityArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Queries.CurrentPath(p.Args["entity_id"].(string)), nil
				},
			},
			"fixes": &graphql.Field{
				Type:        graphql.NewList(fixType),
				Description: "Fixes captured on a range of calendar days",
				Args:        dayArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					loc, start, end, err := gqlDayRange(p.Args, deps.DefaultTimezone)
					if err != nil {
						return nil, err
					}
					return deps.Queries.QueryRange(p.Context, p.Args["entity_id"].(string), start, end, loc)
				},
			},
			"summary": &graphql.Field{
				Type:        summaryType,
				Description: "Counts and distance over a range of calendar days",
				Args:        dayArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					loc, start, end, err := gqlDayRange(p.Args, deps.DefaultTimezone)
					if err != nil {
						return nil, err
					}
					return deps.Queries.Summary(p.Context, p.Args["entity_id"].(string), start, end, loc)
				},
			},
			"dates": &graphql.Field{
				Type:        graphql.NewList(dateCountType),
				Description: "Days on which an entity has fixes",
				Args: graphql.FieldConfigArgument{
					"entity_id": entityArg,
					"tz":        &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tz, _ := p.Args["tz"].(string)
					loc, err := usecases.LoadLocation(tz, deps.DefaultTimezone)
					if err != nil {
						return nil, err
					}
					return deps.Queries.ListAvailableDates(p.Context, p.Args["entity_id"].(string), loc)
				},
			},
			"latest": &graphql.Field{
				Type:        fixType,
				Description: "Most recent stored fix",
				Args:        graphql.FieldConfigArgument{"entity_id": entityArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Queries.Latest(p.Context, p.Args["entity_id"].(string))
				},
			},
			"status": &graphql.Field{
				Type:        statusType,
				Description: "Acceptance and rejection counters",
				Args:        graphql.FieldConfigArgument{"entity_id": entityArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Tracking.Status(p.Args["entity_id"].(string)), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func gqlDayRange(args map[string]interface{}, defaultTZ string) (*time.Location, time.Time, time.Time, error) {
	tz, _ := args["tz"].(string)
	loc, err := usecases.LoadLocation(tz, defaultTZ)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	start := time.Now().In(loc)
	if s, _ := args["start"].(string); s != "" {
		if start, err = usecases.ParseDate(s, loc); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
	}
	end := start
	if e, _ := args["end"].(string); e != "" {
		if end, err = usecases.ParseDate(e, loc); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
	}
	return loc, start, end, nil
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
