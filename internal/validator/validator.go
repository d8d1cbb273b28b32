// Package validator decides whether a column mapping is complete enough to
// analyze and commit.
package validator

import (
	"fmt"
	"strings"

	"trade-import-service/internal/models"
	apperrors "trade-import-service/pkg/errors"
)

// RequiredFields must be mapped before analysis. Risk:reward is deliberately
// absent; it is derived or defaults to 0.
var RequiredFields = []models.CanonicalField{
	models.FieldSymbol,
	models.FieldDirection,
	models.FieldDate,
	models.FieldPnl,
}

// Violation is one reason a mapping is not acceptable.
type Violation interface {
	error
	// ImportError converts the violation for CLI and log reporting.
	ImportError() *apperrors.ImportError
}

// MissingFieldViolation reports an unmapped required field.
type MissingFieldViolation struct {
	Field models.CanonicalField
}

func (v MissingFieldViolation) Error() string {
	return fmt.Sprintf("required field %s is not mapped", v.Field)
}

func (v MissingFieldViolation) ImportError() *apperrors.ImportError {
	return apperrors.ValidationError(apperrors.CodeMissingField, string(v.Field), "", nil)
}

// DuplicateMappingViolation reports a column assigned to more than one field.
type DuplicateMappingViolation struct {
	Column string
	Fields []models.CanonicalField
}

func (v DuplicateMappingViolation) Error() string {
	return fmt.Sprintf("column %q is mapped to %s", v.Column, joinFields(v.Fields))
}

func (v DuplicateMappingViolation) ImportError() *apperrors.ImportError {
	return apperrors.ValidationError(apperrors.CodeDuplicateMapping, joinFields(v.Fields), v.Column, nil)
}

// Violations is the ordered result of Validate. An empty list means the
// mapping is acceptable.
type Violations []Violation

func (vs Violations) Error() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("invalid mapping: %s", strings.Join(msgs, "; "))
}

// Summary converts the list for the CLI error handler.
func (vs Violations) Summary() *apperrors.ErrorSummary {
	errs := make([]*apperrors.ImportError, len(vs))
	for i, v := range vs {
		errs[i] = v.ImportError()
	}
	return apperrors.NewErrorSummary(errs)
}

// Validate checks required-field coverage and column uniqueness. Missing
// fields come first in RequiredFields order, then duplicates in the order
// their column first appears in AllFields.
func Validate(mapping models.ColumnMapping) Violations {
	var violations Violations

	for _, field := range RequiredFields {
		if strings.TrimSpace(mapping.Get(field)) == "" {
			violations = append(violations, MissingFieldViolation{Field: field})
		}
	}

	var columns []string
	byColumn := make(map[string][]models.CanonicalField)
	for _, field := range models.AllFields() {
		column := mapping.Get(field)
		if column == "" {
			continue
		}
		if _, seen := byColumn[column]; !seen {
			columns = append(columns, column)
		}
		byColumn[column] = append(byColumn[column], field)
	}

	for _, column := range columns {
		if fields := byColumn[column]; len(fields) > 1 {
			violations = append(violations, DuplicateMappingViolation{Column: column, Fields: fields})
		}
	}

	return violations
}

func joinFields(fields []models.CanonicalField) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
