package usecases

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// ApplyFilters returns the candidates matching every predicate of criteria.
// Candidates without a computed distance never match. The input is not modified.
func ApplyFilters(candidates []domain.Candidate, criteria domain.FilterCriteria) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matches(c, criteria) {
			out = append(out, c)
		}
	}
	return out
}

func matches(c domain.Candidate, criteria domain.FilterCriteria) bool {
	// cheapest predicates first
	if criteria.AvailableNowOnly && !c.AvailableNow {
		return false
	}
	if c.DistanceKm == nil || !(*c.DistanceKm <= criteria.RadiusKm) {
		return false
	}
	if len(criteria.SkillLevels) > 0 && !anySkill(c.LanguagesSpoken, func(l domain.LanguageSkill) bool {
		return hasFold(criteria.SkillLevels, l.ProficiencyTag)
	}) {
		return false
	}
	if len(criteria.Languages) > 0 && !anySkill(c.LanguagesSpoken, func(l domain.LanguageSkill) bool {
		return hasFold(criteria.Languages, l.Language)
	}) {
		return false
	}
	return true
}

func anySkill(skills []domain.LanguageSkill, pred func(domain.LanguageSkill) bool) bool {
	for _, l := range skills {
		if pred(l) {
			return true
		}
	}
	return false
}

// hasFold reports whether set holds v, ignoring case.
func hasFold(set map[string]struct{}, v string) bool {
	if _, ok := set[v]; ok {
		return true
	}
	for k := range set {
		if strings.EqualFold(k, v) {
			return true
		}
	}
	return false
}

// NearbyCount counts the candidates other than the viewer.
func NearbyCount(candidates []domain.Candidate) int {
	n := 0
	for _, c := range candidates {
		if !c.IsViewer {
			n++
		}
	}
	return n
}

// ParseCriteria builds criteria from request parameters. skills and
// languages are comma separated; available accepts strconv.ParseBool values.
func ParseCriteria(radiusKm float64, available, skills, languages string) (domain.FilterCriteria, error) {
	if !(radiusKm > 0) || math.IsInf(radiusKm, 1) {
		return domain.FilterCriteria{}, fmt.Errorf("radius must be a positive number, got %v", radiusKm)
	}
	criteria := domain.FilterCriteria{
		RadiusKm:    radiusKm,
		SkillLevels: domain.NewSet(splitList(skills)...),
		Languages:   domain.NewSet(splitList(languages)...),
	}
	if available != "" {
		b, err := strconv.ParseBool(available)
		if err != nil {
			return domain.FilterCriteria{}, fmt.Errorf("available: %w", err)
		}
		criteria.AvailableNowOnly = b
	}
	return criteria, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
