package mapping

import (
	"strings"

	"trade-import-service/internal/models"
	"trade-import-service/internal/profiles"
	apperrors "trade-import-service/pkg/errors"
)

// MaxPreviewValues bounds the sample values shown next to a column.
const MaxPreviewValues = 5

// State is the user-editable column mapping of one import, together with the
// rows it is applied to.
type State struct {
	mapping models.ColumnMapping
	headers []string
	rows    []models.RawRow
}

// NewState returns a state with every field unmapped and no rows loaded.
func NewState() *State {
	return &State{mapping: models.NewColumnMapping()}
}

// Load replaces the headers and rows. The mapping is left untouched.
func (s *State) Load(headers []string, rows []models.RawRow) {
	s.headers = append([]string(nil), headers...)
	s.rows = rows
}

// Clear drops the rows and unmaps every field.
func (s *State) Clear() {
	s.headers = nil
	s.rows = nil
	s.mapping = models.NewColumnMapping()
}

// Headers returns the loaded CSV headers.
func (s *State) Headers() []string {
	return append([]string(nil), s.headers...)
}

// Rows returns the loaded rows.
func (s *State) Rows() []models.RawRow {
	return s.rows
}

// HasData reports whether a file has been loaded.
func (s *State) HasData() bool {
	return len(s.headers) > 0
}

// Mapping returns a copy of the current mapping.
func (s *State) Mapping() models.ColumnMapping {
	return s.mapping.Clone()
}

// SetField maps field to column. An empty column unmaps the field. Once
// headers are loaded the column must be one of them.
func (s *State) SetField(field models.CanonicalField, column string) error {
	if !field.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownField, string(field), column, nil)
	}

	column = strings.TrimSpace(column)
	if column != "" && s.HasData() && !s.hasHeader(column) {
		return apperrors.ValidationError(apperrors.CodeUnknownColumn, string(field), column, nil)
	}

	s.mapping.Set(field, column)
	return nil
}

// ResetToProfile replaces the mapping with the profile's suggestion over the
// loaded headers. The custom profile clears it.
func (s *State) ResetToProfile(profile *profiles.PlatformProfile) {
	s.mapping = profiles.SuggestMapping(profile, s.headers)
}

// PreviewValues returns up to MaxPreviewValues distinct non-empty values of
// column, in row order.
func (s *State) PreviewValues(column string) []string {
	values := []string{}
	if column == "" || !s.hasHeader(column) {
		return values
	}

	seen := make(map[string]bool)
	for _, row := range s.rows {
		v := strings.TrimSpace(row[column])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
		if len(values) == MaxPreviewValues {
			break
		}
	}
	return values
}

func (s *State) hasHeader(column string) bool {
	for _, h := range s.headers {
		if h == column {
			return true
		}
	}
	return false
}
