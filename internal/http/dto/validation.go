package dto

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) ToMap() map[string]string {
	return map[string]string{e.Field: e.Message}
}

func ToMap(errs []ValidationError) map[string]string {
	result := make(map[string]string)
	for _, e := range errs {
		result[e.Field] = e.Message
	}
	return result
}

func ToResponse(errs []ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// ErrorResponse is the body of every non-2xx reply. Fields is only set for
// validation failures.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func validatePriority(priority *int) []ValidationError {
	var errs []ValidationError
	if priority != nil {
		if *priority < 1 || *priority > 1000 {
			errs = append(errs, ValidationError{Field: "priority", Message: "must be between 1 and 1000"})
		}
	}
	return errs
}

func validateRetentionDays(days *int) []ValidationError {
	var errs []ValidationError
	if days != nil {
		if *days < 1 || *days > 365 {
			errs = append(errs, ValidationError{Field: "retention_days", Message: "must be between 1 and 365"})
		}
	}
	return errs
}

func validateEntityKind(kind string, optional bool) []ValidationError {
	var errs []ValidationError
	if kind == "" {
		if !optional {
			errs = append(errs, ValidationError{Field: "entity_kind", Message: "required"})
		}
		return errs
	}
	validKinds := map[string]bool{"artist": true, "album": true, "track": true}
	if !validKinds[kind] {
		errs = append(errs, ValidationError{Field: "entity_kind", Message: "must be 'artist', 'album' or 'track'"})
	}
	return errs
}
