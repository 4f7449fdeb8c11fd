package http

import (
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/usecases"
	"github.com/samirrijal/tandemap/internal/pkg/geospatial"
)

const maxRadiusKm = 50

// CandidateView is a candidate with its rendered distance label.
type CandidateView struct {
	domain.Candidate
	DistanceLabel string `json:"distance_label"`
}

// NearbyResponse is the body of GET /v1/candidates/nearby.
type NearbyResponse struct {
	Center      domain.Coordinate `json:"center"`
	RadiusKm    float64           `json:"radius_km"`
	NearbyCount int               `json:"nearby_count"`
	Candidates  []CandidateView   `json:"candidates"`
}

// NearbyCandidatesHandler returns candidates around a point, filtered by
// availability, proficiency and language.
func NearbyCandidatesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		center, ok := queryCoordinate(c, "lat", "lng")
		if !ok {
			return errBadRequest(c, "lat and lng are required")
		}
		if !center.Valid() {
			return errBadRequest(c, "lat/lng out of range")
		}

		radius := c.QueryFloat("radius_km", deps.Settings.DefaultRadiusKm)
		if !validRadius(radius) {
			return errBadRequest(c, "radius_km must be between 0 and 50")
		}

		criteria, err := usecases.ParseCriteria(radius, c.Query("available"), c.Query("skills"), c.Query("languages"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		found, err := deps.Candidates.FindNearby(c.UserContext(), usecases.NearbyQuery{
			ViewerID: c.Query("viewer_id"),
			Center:   center,
			RadiusKm: radius,
			Criteria: criteria,
		})
		if err != nil {
			return errFromDomain(c, err)
		}

		visible := usecases.ApplyFilters(found, criteria)
		views := make([]CandidateView, len(visible))
		for i, cand := range visible {
			views[i] = CandidateView{Candidate: cand, DistanceLabel: geospatial.FormatDistancePtr(cand.DistanceKm)}
		}

		c.Set("Cache-Control", "private, max-age=15")
		return c.JSON(NearbyResponse{
			Center:      center,
			RadiusKm:    radius,
			NearbyCount: usecases.NearbyCount(visible),
			Candidates:  views,
		})
	}
}

// FormatDistanceHandler renders a distance label, either for km directly or
// for the great-circle distance between two points.
func FormatDistanceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var km float64
		if raw := c.Query("km"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errBadRequest(c, "km must be a non-negative number")
			}
			km = v
		} else {
			from, okFrom := queryCoordinate(c, "from_lat", "from_lng")
			to, okTo := queryCoordinate(c, "to_lat", "to_lng")
			if !okFrom || !okTo {
				return errBadRequest(c, "km or from_lat/from_lng/to_lat/to_lng are required")
			}
			if !from.Valid() || !to.Valid() {
				return errBadRequest(c, "coordinates out of range")
			}
			km = geospatial.Haversine(from, to)
		}

		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(fiber.Map{
			"km":    km,
			"label": geospatial.FormatDistance(km),
		})
	}
}

// PresenceResponse is the body of the presence endpoints.
type PresenceResponse struct {
	UserID    string                    `json:"user_id"`
	Available bool                      `json:"available"`
	Presence  *domain.CommittedPresence `json:"presence,omitempty"`
}

// GetPresenceHandler returns a user's live broadcast, if any.
func GetPresenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		committed, err := deps.Presence.GetPresence(c.UserContext(), userID)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set("Cache-Control", "no-cache")
		return c.JSON(PresenceResponse{UserID: userID, Available: committed != nil, Presence: committed})
	}
}

// CommitPresenceRequest is the body of POST /v1/presence/:user_id. Omitted
// fields keep the editor's seeded value.
type CommitPresenceRequest struct {
	DurationMinutes *int    `json:"duration_minutes"`
	Message         *string `json:"message"`
	Emoji           *string `json:"emoji"`
}

// CommitPresenceHandler commits an "available now" broadcast.
func CommitPresenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		var req CommitPresenceRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid JSON body")
			}
		}

		ctx := c.UserContext()
		ctrl, err := presenceControllerFor(c, deps, userID)
		if err != nil {
			return errFromDomain(c, err)
		}
		defer ctrl.Close()

		if _, err := ctrl.BeginEditing(ctx); err != nil {
			return errInternal(c, err.Error())
		}
		if _, err := ctrl.UpdateDraft(func(d *domain.ViewerPresence) {
			if req.DurationMinutes != nil {
				d.DurationMinutes = *req.DurationMinutes
			}
			if req.Message != nil {
				d.Message = strings.TrimSpace(*req.Message)
			}
			if req.Emoji != nil {
				d.Emoji = *req.Emoji
			}
		}); err != nil {
			return errInternal(c, err.Error())
		}

		committed, err := ctrl.Commit(ctx)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(PresenceResponse{UserID: userID, Available: true, Presence: &committed})
	}
}

// ClearPresenceHandler ends a live broadcast early.
func ClearPresenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		ctrl, err := presenceControllerFor(c, deps, userID)
		if err != nil {
			return errFromDomain(c, err)
		}
		defer ctrl.Close()

		if err := ctrl.GoOffline(c.UserContext()); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// presenceControllerFor builds a controller seeded with userID's remote state.
func presenceControllerFor(c *fiber.Ctx, deps *Dependencies, userID string) (*usecases.PresenceController, error) {
	ctx := c.UserContext()
	committed, err := deps.Presence.GetPresence(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg := deps.Settings.Presence
	cfg.UserID = userID
	ctrl := usecases.NewPresenceController(usecases.PresenceDeps{
		Remote:    deps.Presence,
		Messages:  deps.Presence,
		Store:     deps.PresenceStore,
		Scheduler: deps.Scheduler,
		Publisher: deps.Publisher,
		Log:       LoggerFromCtx(ctx),
	}, cfg)
	ctrl.Restore(committed)
	return ctrl, nil
}

// validRadius rejects NaN along with out of range values.
func validRadius(km float64) bool {
	return km > 0 && km <= maxRadiusKm
}

// queryCoordinate reads a lat/lng pair. ok is false if either is missing or
// not a number.
func queryCoordinate(c *fiber.Ctx, latKey, lngKey string) (domain.Coordinate, bool) {
	rawLat, rawLng := c.Query(latKey), c.Query(lngKey)
	if rawLat == "" || rawLng == "" {
		return domain.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return domain.Coordinate{}, false
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return domain.Coordinate{}, false
	}
	return domain.Coordinate{Latitude: lat, Longitude: lng}, true
}
