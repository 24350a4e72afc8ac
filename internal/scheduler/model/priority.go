package model

import (
	"strings"

	"github.com/pkg/errors"
)

type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// PreemptionEligiblePriority is the lowest priority allowed to evict running deployments.
const PreemptionEligiblePriority = PriorityHigh

const DefaultPriority = PriorityMedium

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityMedium:   "MEDIUM",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

// Rank orders priorities; a higher rank is scheduled first.
func (p Priority) Rank() int {
	return int(p)
}

func (p Priority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParsePriority(s string) (Priority, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == upper {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, errors.Errorf("cannot marshal unknown priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
