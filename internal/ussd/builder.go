package ussd

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// Builder assembles a Registry from fluent state registrations. Registration
// errors are retained and surfaced by Build, so dialogue definitions read as
// one uninterrupted chain.
type Builder struct {
	states map[string]*models.State
	entry  string
	err    error
}

// NewBuilder creates an empty dialogue builder.
func NewBuilder() *Builder {
	return &Builder{states: make(map[string]*models.State)}
}

// SetEntryState designates the state rendered for depth-0 requests.
func (b *Builder) SetEntryState(name string) *Builder {
	b.entry = name
	return b
}

// register adds a finalized state, recording the first duplicate-name error.
func (b *Builder) register(state *models.State) {
	if _, exists := b.states[state.Name]; exists {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %q", models.ErrDuplicateState, state.Name)
		}
		slog.Error("Builder: duplicate state registration", "state", state.Name)
		return
	}
	b.states[state.Name] = state
	slog.Debug("Builder: state registered", "state", state.Name, "kind", state.Kind)
}

// Menu starts a menu state. Options accumulate on the returned MenuBuilder
// and the state is registered by Done.
func (b *Builder) Menu(name, message string) *MenuBuilder {
	return &MenuBuilder{
		builder: b,
		state: &models.State{
			Name:   name,
			Kind:   models.StateKindMenu,
			Prompt: message,
		},
	}
}

// MenuBuilder accumulates the ordered options of one menu state.
type MenuBuilder struct {
	builder *Builder
	state   *models.State
}

// Option appends a selectable entry. Target states are resolved lazily by
// name at execution time.
func (mb *MenuBuilder) Option(key, label, nextState string) *MenuBuilder {
	mb.state.Options = append(mb.state.Options, models.MenuOption{
		Key:       key,
		Label:     label,
		NextState: nextState,
	})
	return mb
}

// Done finalizes and registers the menu state.
func (mb *MenuBuilder) Done() *Builder {
	mb.builder.register(mb.state)
	return mb.builder
}

// InputConfig carries the optional pieces of an input state.
type InputConfig struct {
	Validate models.ValidatorFunc
	StoreAs  string
	Handler  models.HandlerFunc
}

// Input registers a state that collects one token from the user.
func (b *Builder) Input(name, prompt string, cfg InputConfig) *Builder {
	b.register(&models.State{
		Name:      name,
		Kind:      models.StateKindInput,
		Prompt:    prompt,
		Validator: cfg.Validate,
		StoreKey:  cfg.StoreAs,
		Handler:   cfg.Handler,
	})
	return b
}

// End registers a terminal state with a fixed message.
func (b *Builder) End(name, message string) *Builder {
	b.register(&models.State{
		Name:     name,
		Kind:     models.StateKindTerminal,
		Prompt:   message,
		Terminal: true,
	})
	return b
}

// DynamicConfig carries the optional pieces of a dynamic state.
type DynamicConfig struct {
	Terminal bool
	Options  []models.MenuOption
}

// Dynamic registers a state whose content comes from a generator.
func (b *Builder) Dynamic(name string, generator models.GeneratorFunc, cfg DynamicConfig) *Builder {
	b.register(&models.State{
		Name:      name,
		Kind:      models.StateKindDynamic,
		Generator: generator,
		Terminal:  cfg.Terminal,
		Options:   cfg.Options,
	})
	return b
}

// Build finalizes the registry. It fails on any recorded registration error
// or when the entry state is missing or unregistered.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.entry == "" {
		return nil, models.ErrNoEntryState
	}
	if _, ok := b.states[b.entry]; !ok {
		return nil, fmt.Errorf("%w: entry state %q", models.ErrUnknownState, b.entry)
	}
	states := make(map[string]*models.State, len(b.states))
	for name, state := range b.states {
		states[name] = state
	}
	slog.Debug("Builder: registry built", "states", len(states), "entry", b.entry)
	return &Registry{states: states, entry: b.entry}, nil
}
