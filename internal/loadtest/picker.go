package loadtest

import (
	"fmt"
	"sync"
)

// Picker distributes spawned users across user types with smooth weighted
// round-robin: every window of sum(weights) picks holds each type exactly
// Weight times, and types are interleaved rather than spawned in blocks.
type Picker struct {
	mu      sync.Mutex
	entries []pickerEntry
	total   int
}

type pickerEntry struct {
	userType *UserType
	current  int
}

// NewPicker validates the user types and builds a picker over them.
func NewPicker(userTypes []*UserType) (*Picker, error) {
	if len(userTypes) == 0 {
		return nil, ErrNoUserTypes
	}

	p := &Picker{entries: make([]pickerEntry, 0, len(userTypes))}
	seen := make(map[string]bool, len(userTypes))
	for _, ut := range userTypes {
		if err := ut.Validate(); err != nil {
			return nil, err
		}
		if seen[ut.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidUserType, ut.Name)
		}
		seen[ut.Name] = true
		p.entries = append(p.entries, pickerEntry{userType: ut})
		p.total += ut.Weight
	}
	return p, nil
}

// Next returns the user type for the next spawned user.
func (p *Picker) Next() *UserType {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := 0
	for i := range p.entries {
		p.entries[i].current += p.entries[i].userType.Weight
		if p.entries[i].current > p.entries[best].current {
			best = i
		}
	}
	p.entries[best].current -= p.total
	return p.entries[best].userType
}

// UserTypes returns the user types in registration order.
func (p *Picker) UserTypes() []*UserType {
	result := make([]*UserType, len(p.entries))
	for i, e := range p.entries {
		result[i] = e.userType
	}
	return result
}
