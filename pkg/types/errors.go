// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level problems found before any
// orchestration starts. Handlers map it to HTTP 400.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records a problem with field.
func (v *ValidationError) Add(field, message string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: message})
}

// Merge appends the problems of o.
func (v *ValidationError) Merge(o ValidationError) {
	v.Fields = append(v.Fields, o.Fields...)
}

// HasErrors reports whether any field is invalid.
func (v ValidationError) HasErrors() bool {
	return len(v.Fields) > 0
}

// Err returns v as an error, or nil when there is nothing to report.
func (v ValidationError) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return &v
}

func (v *ValidationError) Error() string {
	parts := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
