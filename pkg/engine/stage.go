package engine

import (
	"strconv"
	"strings"
)

// Stage names an isolated deployment target.
type Stage string

const ephemeralPrefix = "pr-"

// EphemeralStage returns the per-pull-request stage for number.
func EphemeralStage(number int) Stage {
	return Stage(ephemeralPrefix + strconv.Itoa(number))
}

// PRNumber returns the pull request number of an ephemeral stage.
func (s Stage) PRNumber() (int, bool) {
	rest, ok := strings.CutPrefix(string(s), ephemeralPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsEphemeral reports whether s is a well-formed pr-<n> stage.
func (s Stage) IsEphemeral() bool {
	_, ok := s.PRNumber()
	return ok
}

// CheckRunName returns the check run name used for this stage.
func (s Stage) CheckRunName() string {
	return "SST - " + string(s)
}

func (s Stage) String() string {
	return string(s)
}
