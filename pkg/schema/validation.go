package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

var (
	errRevisionNeedsPeers  = apperrors.NewValidationError("peer_recommendations is required when phase=revision")
	errInitialForbidsPeers = apperrors.NewValidationError("peer_recommendations is forbidden when phase=initial")
)

var flightNumberPattern = regexp.MustCompile(`^EY\d{3,4}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("flightnumber", func(fl validator.FieldLevel) bool {
			return flightNumberPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// NormalizeFlightNumber trims and uppercases a raw flight number as
// extracted from free text.
func NormalizeFlightNumber(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateFlightInfo normalizes and validates a FlightInfo, returning an
// ErrorTypeValidation AppError describing the first failing field.
func ValidateFlightInfo(f *FlightInfo) error {
	f.FlightNumber = NormalizeFlightNumber(f.FlightNumber)
	f.DisruptionEvent = strings.TrimSpace(f.DisruptionEvent)

	if err := getValidator().Struct(f); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "invalid flight info: %s", describeValidationError(err))
	}
	return nil
}

// ValidateDisruptionPayload validates struct tags and the
// phase/peer-recommendations coupling invariant.
func ValidateDisruptionPayload(p *DisruptionPayload) error {
	if err := getValidator().Struct(p); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "invalid disruption payload: %s", describeValidationError(err))
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateAgentResponse enforces the confidence-range and
// binding-constraints-imply-safety-subset invariants from SPEC_FULL.md
// §3. isSafetyAgent is supplied by the caller (the Constraint Registry /
// Agent Runtime know the safety subset; this package does not).
func ValidateAgentResponse(r *AgentResponse, isSafetyAgent bool) error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return apperrors.NewValidationError(fmt.Sprintf("confidence %.3f is out of range [0,1]", r.Confidence))
	}
	if len(r.BindingConstraints) > 0 && !isSafetyAgent {
		return apperrors.NewValidationError(fmt.Sprintf("agent %q emitted binding constraints but is not in the safety subset", r.AgentName))
	}
	if r.Status == StatusSuccess && r.Recommendation == "" {
		return apperrors.NewValidationError("a successful response must carry a recommendation")
	}
	if r.Status != StatusSuccess && r.Error == "" {
		return apperrors.NewValidationError("a non-successful response must carry an error")
	}
	return nil
}

func describeValidationError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

// ParseRelativeDate resolves a relative date phrase ("today",
// "yesterday", "tomorrow", or a weekday name) against now, returning a
// concrete ISO-8601 calendar date in loc. Weekday names resolve to the
// most recent occurrence of that weekday on or before now, matching how
// people refer to "last Monday" in an incident report. An unrecognized
// phrase is returned as-is so an already-concrete date string passes
// through unchanged.
func ParseRelativeDate(phrase string, now time.Time, loc *time.Location) string {
	now = now.In(loc)
	lower := strings.ToLower(strings.TrimSpace(phrase))
	switch lower {
	case "today":
		return now.Format("2006-01-02")
	case "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if wd, ok := weekdayByName[lower]; ok {
		delta := int(now.Weekday()) - int(wd)
		if delta < 0 {
			delta += 7
		}
		return now.AddDate(0, 0, -delta).Format("2006-01-02")
	}
	return phrase
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}
