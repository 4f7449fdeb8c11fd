package domain

// LanguageSkill is one language a candidate speaks with a proficiency tag
// such as "native", "fluent", "intermediate" or "beginner".
type LanguageSkill struct {
	Language       string `json:"language"`
	ProficiencyTag string `json:"proficiency_tag"`
}

// RawCandidate is the record shape returned by the geo-query service and the
// unfiltered candidate source, before normalisation.
type RawCandidate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	Coordinate      *Coordinate     `json:"coordinate,omitempty"`
	AvailableNow    bool            `json:"available_now"`
	Languages       []LanguageSkill `json:"languages"`
	PresenceMessage string          `json:"presence_message,omitempty"`
	PresenceEmoji   string          `json:"presence_emoji,omitempty"`
}

// Candidate is a prospective partner surfaced to the viewer.
type Candidate struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name,omitempty"`
	Coordinate           Coordinate      `json:"coordinate"`
	CoordinateIsFallback bool            `json:"coordinate_is_fallback"`
	DistanceKm           *float64        `json:"distance_km,omitempty"` // computed field
	AvailableNow         bool            `json:"available_now"`
	LanguagesSpoken      []LanguageSkill `json:"languages_spoken"`
	PresenceMessage      string          `json:"presence_message,omitempty"`
	PresenceEmoji        string          `json:"presence_emoji,omitempty"`
	IsViewer             bool            `json:"is_viewer,omitempty"`
}

// FilterCriteria narrows the candidate set. Empty sets match everything.
type FilterCriteria struct {
	RadiusKm         float64             `json:"radius_km"`
	AvailableNowOnly bool                `json:"available_now_only"`
	SkillLevels      map[string]struct{} `json:"-"`
	Languages        map[string]struct{} `json:"-"`
}

// NewSet builds a string set, skipping empty values.
func NewSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// PointOfInterest is a non-person marker (a venue or an event).
type PointOfInterest struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Category   ViewFilter `json:"category"` // ViewPlaces or ViewEvents
	Coordinate Coordinate `json:"coordinate"`
}

// ViewFilter is the map's active content filter.
type ViewFilter string

const (
	ViewAll       ViewFilter = "all"
	ViewPeople    ViewFilter = "people"
	ViewAvailable ViewFilter = "available"
	ViewPlaces    ViewFilter = "places"
	ViewEvents    ViewFilter = "events"
)

// IncludesPeople reports whether the filter shows people markers.
func (f ViewFilter) IncludesPeople() bool {
	switch f {
	case ViewAll, ViewPeople, ViewAvailable, "":
		return true
	}
	return false
}

// Valid reports whether f is a known filter.
func (f ViewFilter) Valid() bool {
	switch f {
	case ViewAll, ViewPeople, ViewAvailable, ViewPlaces, ViewEvents:
		return true
	}
	return false
}

// MapStyle is the visual style of the map surface.
type MapStyle string

const (
	StyleStandard  MapStyle = "standard"
	StyleSatellite MapStyle = "satellite"
	StyleTerrain   MapStyle = "terrain"
)

// Valid reports whether s is a known style.
func (s MapStyle) Valid() bool {
	return s == StyleStandard || s == StyleSatellite || s == StyleTerrain
}

// MarkerKind classifies a marker on the map surface.
type MarkerKind string

const (
	MarkerViewer          MarkerKind = "viewer"
	MarkerCandidate       MarkerKind = "candidate"
	MarkerPointOfInterest MarkerKind = "point_of_interest"
)

// MarkerHandle is an opaque identifier issued by the map surface.
type MarkerHandle string

// MarkerSpec is the visual payload of a marker.
type MarkerSpec struct {
	OwnerID     string     `json:"owner_id"`
	Kind        MarkerKind `json:"kind"`
	Coordinate  Coordinate `json:"coordinate"`
	Glyph       string     `json:"glyph"`
	Online      bool       `json:"online"`
	LiveBadge   bool       `json:"live_badge"`
	Approximate bool       `json:"approximate"`
	Emoji       string     `json:"emoji,omitempty"`
	Label       string     `json:"label,omitempty"`
}
