package profiles

import (
	"strings"

	"trade-import-service/internal/models"
)

// Header match scores
const (
	ScoreExact       = 1.0
	ScoreContains    = 0.75
	ScoreContainedBy = 0.5
)

// MatchScore rates how well an actual CSV header matches the header a profile
// expects. Comparison is case-insensitive on trimmed values; 0 means no match.
func MatchScore(expected, actual string) float64 {
	e := strings.ToLower(strings.TrimSpace(expected))
	a := strings.ToLower(strings.TrimSpace(actual))
	if e == "" || a == "" {
		return 0
	}

	switch {
	case a == e:
		return ScoreExact
	case strings.Contains(a, e):
		return ScoreContains
	case strings.Contains(e, a):
		return ScoreContainedBy
	default:
		return 0
	}
}

// bestHeader returns the first header in CSV order that matches expected.
func bestHeader(expected string, headers []string) string {
	for _, h := range headers {
		if MatchScore(expected, h) > 0 {
			return h
		}
	}
	return ""
}

// SuggestMapping seeds a ColumnMapping from a profile. It is a pure function
// of its inputs; fields without a matching header stay unmapped.
func SuggestMapping(profile *PlatformProfile, headers []string) models.ColumnMapping {
	mapping := models.NewColumnMapping()
	if profile == nil || profile.IsCustom() {
		return mapping
	}

	for field, expected := range profile.FieldMap {
		mapping.Set(field, bestHeader(expected, headers))
	}
	return mapping
}
