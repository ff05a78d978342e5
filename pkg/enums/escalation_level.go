package enums

import "fmt"

// EscalationLevel records how far a payout failure was escalated.
type EscalationLevel string

const (
	EscalationAgencyNotified   EscalationLevel = "agency_notified"
	EscalationInternalNotified EscalationLevel = "internal_notified"
	EscalationFlaggedForReview EscalationLevel = "flagged_for_review"
)

var validEscalationLevels = []EscalationLevel{
	EscalationAgencyNotified,
	EscalationInternalNotified,
	EscalationFlaggedForReview,
}

func (e EscalationLevel) String() string {
	return string(e)
}

func (e EscalationLevel) IsValid() bool {
	for _, candidate := range validEscalationLevels {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParseEscalationLevel(value string) (EscalationLevel, error) {
	for _, candidate := range validEscalationLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escalation level %q", value)
}
