// Package models defines state definitions for UssdPipe dialogues.
package models

import "context"

// StateKind discriminates the four state variants. The engine switches on
// the kind rather than probing optional fields.
type StateKind string

const (
	// StateKindMenu renders a static prompt with keyed navigation options.
	StateKindMenu StateKind = "menu"
	// StateKindInput collects one token, optionally validated and stored.
	StateKindInput StateKind = "input"
	// StateKindTerminal renders a fixed message and ends the dialogue.
	StateKindTerminal StateKind = "terminal"
	// StateKindDynamic renders generated content, optionally terminal.
	StateKindDynamic StateKind = "dynamic"
)

// ValidationResult is the outcome of running a validator over one input token.
// Value carries the normalized form stored into the session on success.
type ValidationResult struct {
	Valid   bool
	Message string
	Value   interface{}
}

// ValidatorFunc validates and normalizes a single input token. Validators
// are pure and synchronous; they may read but never mutate the session.
type ValidatorFunc func(input string, session *Session) ValidationResult

// HandlerFunc is a business-rule collaborator invoked with new input after
// validation passes. It may mutate session.CurrentState and session.Data
// and returns the complete, directive-prefixed next message. The engine
// guarantees at most one invocation per request depth.
type HandlerFunc func(ctx context.Context, session *Session, input, phoneNumber string) (string, error)

// GeneratorFunc produces dynamic content for a state. It has the same
// mutation rights as a HandlerFunc. A generator returning an empty message
// is treated as a pure redirect and execution continues at the session's
// (possibly updated) current state.
type GeneratorFunc func(ctx context.Context, session *Session, phoneNumber string) (string, error)

// MenuOption is one selectable entry of a menu state. NextState is resolved
// by name at execution time; a dangling reference fails the request.
type MenuOption struct {
	Key       string
	Label     string
	NextState string
}

// State is a named node in the dialogue graph. States are immutable once
// registered and shared read-only across all sessions. Not all fields apply
// to all kinds; Kind determines which are consulted.
type State struct {
	Name      string
	Kind      StateKind
	Prompt    string
	Options   []MenuOption
	Validator ValidatorFunc
	StoreKey  string
	Handler   HandlerFunc
	Generator GeneratorFunc
	Terminal  bool
}

// Option returns the menu option matching key, if any.
func (s *State) Option(key string) (MenuOption, bool) {
	for _, opt := range s.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return MenuOption{}, false
}
