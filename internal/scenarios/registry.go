package scenarios

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wesleyorama2/storeload/internal/loadtest"
)

// Script is a named set of simulated user types.
type Script struct {
	Name        string
	Description string

	// UserTypes builds fresh user types bound to a page factory
	UserTypes func(newPage PageFactory) []*loadtest.UserType
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Script{}
)

// Register adds a script. It panics on an empty or duplicate name.
func Register(s Script) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if s.Name == "" || s.UserTypes == nil {
		panic("scenarios: script needs a name and user types")
	}
	if _, dup := registry[s.Name]; dup {
		panic("scenarios: duplicate script " + s.Name)
	}
	registry[s.Name] = s
}

// Get returns the script registered under name.
func Get(name string) (Script, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	s, ok := registry[name]
	if !ok {
		return Script{}, fmt.Errorf("unknown script %q (available: %v)", name, namesLocked())
	}
	return s, nil
}

// Names returns all registered script names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
