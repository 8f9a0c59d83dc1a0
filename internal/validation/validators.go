// Package validation provides input-sanitizing validators for values that
// cross a trust boundary before reaching the Data Fetcher or the agent
// catalogue: free-form prompt fragments, fetcher arguments, and
// catalogue identifiers. These are deliberately stricter than the
// struct-tag validation in pkg/schema, which only checks shape.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

var agentIDPattern = regexp.MustCompile(`^[a-z0-9]([_a-z0-9]*[a-z0-9])?$`)

// ValidateAgentID checks that id is a well-formed catalogue identifier:
// lowercase alphanumerics and underscores, 1-63 characters, matching the
// naming convention the agent prompt catalogue expects (e.g.
// "crew_compliance").
func ValidateAgentID(id string) error {
	if id == "" {
		return apperrors.NewValidationError("agent_id is required")
	}
	if len(id) > 63 {
		return apperrors.NewValidationError("agent_id must be 63 characters or less")
	}
	if !agentIDPattern.MatchString(id) {
		return apperrors.NewValidationError("agent_id must be a valid identifier (lowercase alphanumerics and underscores)")
	}
	return nil
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+select\b`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`;`),
}

// ValidateStringInput checks that value is within maxLen and free of
// patterns associated with SQL/script injection, ahead of it being
// interpolated into a fetcher argument or a model prompt.
func ValidateStringInput(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return apperrors.NewValidationError(fmt.Sprintf("%s must be %d characters or less", field, maxLen))
	}
	for _, p := range unsafePatterns {
		if p.MatchString(value) {
			return apperrors.NewValidationError(fmt.Sprintf("%s contains potentially unsafe characters", field))
		}
	}
	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return apperrors.NewValidationError(fmt.Sprintf("%s contains invalid control characters", field))
		}
	}
	return nil
}

var knownFetcherOperations = map[string]bool{
	"point_get":    true,
	"range_query":  true,
	"filter_scan":  true,
}

// ValidateFetcherOperation checks op against the Data Fetcher's three
// access patterns (SPEC_FULL.md §4.3).
func ValidateFetcherOperation(op string) error {
	if err := ValidateStringInput("fetcher_operation", op, 64); err != nil {
		return err
	}
	if !knownFetcherOperations[op] {
		return apperrors.NewValidationError(fmt.Sprintf("%q is not a recognized fetcher operation", op))
	}
	return nil
}

var timeRangePattern = regexp.MustCompile(`^\d+[mhd]$`)

// ValidateTimeRange checks a relative time-range argument such as "24h"
// or "7d" used by range-query fetcher calls.
func ValidateTimeRange(timeRange string) error {
	if err := ValidateStringInput("time_range", timeRange, 16); err != nil {
		return err
	}
	if !timeRangePattern.MatchString(timeRange) {
		return apperrors.NewValidationError("time_range must be in format like '24h', '7d', '60m'")
	}
	return nil
}

// ValidateWindowMinutes bounds a query window to between 1 minute and 7
// days, matching the Data Fetcher's supported range-query span.
func ValidateWindowMinutes(minutes int) error {
	if minutes <= 0 {
		return apperrors.NewValidationError("window minutes must be greater than 0")
	}
	if minutes > 10080 {
		return apperrors.NewValidationError("window minutes must be 7 days (10080 minutes) or less")
	}
	return nil
}

// ValidateLimit bounds a result-set limit for a filter-scan call.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return apperrors.NewValidationError("limit must be greater than 0")
	}
	if limit > 10000 {
		return apperrors.NewValidationError("limit must be 10000 or less")
	}
	return nil
}

// SanitizeForLogging replaces control characters with '?' and truncates
// to 200 characters (with a trailing "...") so untrusted prompt text
// never corrupts a structured log line.
func SanitizeForLogging(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteRune('?')
		} else {
			b.WriteRune(r)
		}
	}
	result := b.String()
	if len(result) > 200 {
		result = result[:197] + "..."
	}
	return result
}
