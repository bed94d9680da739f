package review

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of one review turn.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
)

// MaxRejections is the most rejections a phase may collect. The next
// rejection escalates.
const MaxRejections = 3

var verdictPattern = regexp.MustCompile(`(?i)VERDICT:\s*(APPROVED|REJECTED)`)

var (
	// ErrVerdictNotFound is returned when a review reply carries no verdict.
	// It is never retried.
	ErrVerdictNotFound = errors.New("review reply contains no verdict")

	// ErrEscalated matches every RejectionLimitError.
	ErrEscalated = errors.New("review escalated")
)

// ParseVerdict finds the verdict in a review reply. The first marker wins.
func ParseVerdict(reply string) (Verdict, error) {
	m := verdictPattern.FindStringSubmatch(reply)
	if m == nil {
		return "", ErrVerdictNotFound
	}
	return Verdict(strings.ToUpper(m[1])), nil
}

// RejectionLimitError is returned when a phase is rejected more often than
// the loop allows.
type RejectionLimitError struct {
	Limit      int
	Rejections int
	Turns      int
	LastReview string
}

func (e *RejectionLimitError) Error() string {
	return fmt.Sprintf("review escalated: exceeded %d rejections", e.Limit)
}

func (e *RejectionLimitError) Is(target error) bool {
	return target == ErrEscalated
}
