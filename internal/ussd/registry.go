// Package ussd implements the session state-machine engine for UssdPipe.
//
// It provides the state registry and builder, the dispatch engine that turns
// accumulated-input USSD callbacks into directive-prefixed responses, and the
// input validator library. Business rules enter through the collaborator
// functions attached to individual states.
package ussd

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// Registry is an immutable mapping from state name to state definition.
// It is built once via Builder and shared read-only across all sessions.
type Registry struct {
	states map[string]*models.State
	entry  string
}

// Get resolves a state by name. Unregistered names are a per-request error,
// never silently ignored.
func (r *Registry) Get(name string) (*models.State, error) {
	state, ok := r.states[name]
	if !ok {
		slog.Error("Registry.Get: state not registered", "state", name)
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownState, name)
	}
	return state, nil
}

// EntryState resolves the state used for depth-0 requests.
func (r *Registry) EntryState() (*models.State, error) {
	if r.entry == "" {
		return nil, models.ErrNoEntryState
	}
	return r.Get(r.entry)
}

// EntryStateName returns the designated entry state name.
func (r *Registry) EntryStateName() string {
	return r.entry
}

// Len returns the number of registered states.
func (r *Registry) Len() int {
	return len(r.states)
}
