package plan

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RunIDLength is the number of hex characters in a run id.
const RunIDLength = 6

var runIDPattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// RunID identifies one end-to-end execution of a plan.
type RunID string

// NewRunID returns a fresh run id derived from a random UUID.
func NewRunID() RunID {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return RunID(hex[:RunIDLength])
}

// Valid reports whether id is exactly six lowercase hex characters.
func (id RunID) Valid() bool {
	return runIDPattern.MatchString(string(id))
}

func (id RunID) String() string { return string(id) }
