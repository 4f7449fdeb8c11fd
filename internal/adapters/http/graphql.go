package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/usecases"
	"github.com/samirrijal/tandemap/internal/pkg/geospatial"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	coordinateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinate",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
		},
	})

	languageType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LanguageSkill",
		Fields: graphql.Fields{
			"language":        &graphql.Field{Type: graphql.String},
			"proficiency_tag": &graphql.Field{Type: graphql.String},
		},
	})

	candidateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Candidate",
		Fields: graphql.Fields{
			"id":                     &graphql.Field{Type: graphql.String},
			"name":                   &graphql.Field{Type: graphql.String},
			"coordinate":             &graphql.Field{Type: coordinateType},
			"coordinate_is_fallback": &graphql.Field{Type: graphql.Boolean},
			"distance_km":            &graphql.Field{Type: graphql.Float},
			"distance_label":         &graphql.Field{Type: graphql.String},
			"available_now":          &graphql.Field{Type: graphql.Boolean},
			"languages_spoken":       &graphql.Field{Type: graphql.NewList(languageType)},
			"presence_message":       &graphql.Field{Type: graphql.String},
			"presence_emoji":         &graphql.Field{Type: graphql.String},
		},
	})

	presenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Presence",
		Fields: graphql.Fields{
			"user_id":          &graphql.Field{Type: graphql.String},
			"available":        &graphql.Field{Type: graphql.Boolean},
			"message":          &graphql.Field{Type: graphql.String},
			"emoji":            &graphql.Field{Type: graphql.String},
			"duration_minutes": &graphql.Field{Type: graphql.Int},
			"expires_at":       &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"candidatesNearby": &graphql.Field{
				Type:        graphql.NewList(candidateType),
				Description: "Find language partners near a location",
				Args: graphql.FieldConfigArgument{
					"lat":           &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lng":           &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radiusKm":      &graphql.ArgumentConfig{Type: graphql.Float},
					"availableOnly": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
					"skills":        &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
					"languages":     &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
					"viewerId":      &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					center := domain.Coordinate{Latitude: p.Args["lat"].(float64), Longitude: p.Args["lng"].(float64)}
					radius := deps.Settings.DefaultRadiusKm
					if r, ok := p.Args["radiusKm"].(float64); ok {
						radius = r
					}
					if !validRadius(radius) {
						return nil, fmt.Errorf("radiusKm must be between 0 and 50")
					}

					criteria, err := usecases.ParseCriteria(radius, "",
						strings.Join(stringList(p.Args["skills"]), ","),
						strings.Join(stringList(p.Args["languages"]), ","))
					if err != nil {
						return nil, err
					}
					criteria.AvailableNowOnly = p.Args["availableOnly"].(bool)

					found, err := deps.Candidates.FindNearby(p.Context, usecases.NearbyQuery{
						ViewerID: p.Args["viewerId"].(string),
						Center:   center,
						RadiusKm: radius,
						Criteria: criteria,
					})
					if err != nil {
						return nil, err
					}

					visible := usecases.ApplyFilters(found, criteria)
					result := make([]map[string]interface{}, 0, len(visible))
					for _, c := range visible {
						result = append(result, candidateMap(c))
					}
					return result, nil
				},
			},
			"formatDistance": &graphql.Field{
				Type:        graphql.String,
				Description: "Render a distance in km as a display label",
				Args: graphql.FieldConfigArgument{
					"km": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return geospatial.FormatDistance(p.Args["km"].(float64)), nil
				},
			},
			"presence": &graphql.Field{
				Type:        presenceType,
				Description: "A user's live availability broadcast",
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					userID := p.Args["userId"].(string)
					committed, err := deps.Presence.GetPresence(p.Context, userID)
					if err != nil {
						return nil, err
					}
					m := map[string]interface{}{"user_id": userID, "available": committed != nil}
					if committed != nil {
						m["message"] = committed.Value.Message
						m["emoji"] = committed.Value.Emoji
						m["duration_minutes"] = committed.Value.DurationMinutes
						m["expires_at"] = committed.ExpiresAt.UTC().Format(time.RFC3339)
					}
					return m, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func candidateMap(c domain.Candidate) map[string]interface{} {
	langs := make([]map[string]interface{}, len(c.LanguagesSpoken))
	for i, l := range c.LanguagesSpoken {
		langs[i] = map[string]interface{}{"language": l.Language, "proficiency_tag": l.ProficiencyTag}
	}
	m := map[string]interface{}{
		"id":                     c.ID,
		"name":                   c.Name,
		"coordinate":             map[string]interface{}{"latitude": c.Coordinate.Latitude, "longitude": c.Coordinate.Longitude},
		"coordinate_is_fallback": c.CoordinateIsFallback,
		"distance_label":         geospatial.FormatDistancePtr(c.DistanceKm),
		"available_now":          c.AvailableNow,
		"languages_spoken":       langs,
		"presence_message":       c.PresenceMessage,
		"presence_emoji":         c.PresenceEmoji,
	}
	if c.DistanceKm != nil {
		m["distance_km"] = *c.DistanceKm
	}
	return m
}

func stringList(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
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
		if req.Query == "" {
			return errBadRequest(c, "query is required")
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
