// Package permission answers whether a capability is currently granted.
//
// The daemon never prompts for permissions; a denied capability is reported
// through dispatch outcomes and logs.
package permission

import (
	"sync"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// Gate reports whether a capability is granted right now.
type Gate interface {
	IsGranted(capability shake.Capability) bool
}

// Static is a Gate backed by an in-memory grant table.
// Grants can be changed at runtime, e.g. to revoke a capability mid-flight.
type Static struct {
	// grants maps capabilities to their granted flag.
	grants map[shake.Capability]bool
	// mu protects grants.
	mu sync.RWMutex
}

// NewStatic copies the provided grants. Capabilities not listed are denied.
func NewStatic(grants map[shake.Capability]bool) *Static {
	copied := make(map[shake.Capability]bool, len(grants))
	for capability, granted := range grants {
		copied[capability] = granted
	}

	return &Static{grants: copied}
}

// IsGranted implements Gate.
func (s *Static) IsGranted(capability shake.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grants[capability]
}

// Set grants or revokes a capability.
func (s *Static) Set(capability shake.Capability, granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.grants[capability] = granted
}

// LookupFunc resolves a tool name to a path, like exec.LookPath.
type LookupFunc func(file string) (string, error)

// Tools is a Gate that additionally requires the platform tool behind each
// capability to be installed.
type Tools struct {
	// next is the gate consulted first.
	next Gate
	// tools maps capabilities to the executable that serves them.
	tools map[shake.Capability]string
	// lookup finds executables.
	lookup LookupFunc
}

// NewTools wraps next so that a capability is granted only when its tool is available.
// Capabilities without a tool entry defer to next.
func NewTools(next Gate, tools map[shake.Capability]string, lookup LookupFunc) *Tools {
	return &Tools{
		next:   next,
		tools:  tools,
		lookup: lookup,
	}
}

// IsGranted implements Gate.
func (t *Tools) IsGranted(capability shake.Capability) bool {
	if !t.next.IsGranted(capability) {
		return false
	}

	tool, ok := t.tools[capability]
	if !ok {
		return true
	}

	_, err := t.lookup(tool)

	return err == nil
}
