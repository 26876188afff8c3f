package ussd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/UssdPipe/internal/models"
	"github.com/BTreeMap/UssdPipe/internal/session"
)

// Engine configuration constants
const (
	// DefaultMaxChainHops bounds auto-advance through states requiring no
	// user action, guarding against cyclic next-state graphs.
	DefaultMaxChainHops = 10
	// GenericErrorMessage is returned for any internal failure. Stack traces
	// never reach the wire.
	GenericErrorMessage = "An error occurred. Please try again."
)

// Engine drives dialogue sessions through the state graph. It owns all
// session mutation; the session store owns storage and expiry; the registry
// is shared read-only.
type Engine struct {
	registry *Registry
	sessions session.Store
	locks    *sessionLocks
	maxHops  int
}

// NewEngine creates a dispatch engine over the given registry and session store.
func NewEngine(registry *Registry, sessions session.Store) *Engine {
	slog.Debug("Creating USSD engine", "states", registry.Len(), "entry", registry.EntryStateName())
	return &Engine{
		registry: registry,
		sessions: sessions,
		locks:    newSessionLocks(),
		maxHops:  DefaultMaxChainHops,
	}
}

// ProcessRequest handles one gateway callback and returns the full
// directive-prefixed response body. Requests for the same session id are
// serialized for the whole lookup-execute-save cycle, so a retransmitted
// request can never race its twin past the replay check. Any processing
// error yields a generic END response and leaves the session unsaved.
func (e *Engine) ProcessRequest(ctx context.Context, req models.USSDRequest) string {
	if err := req.Validate(); err != nil {
		slog.Warn("Engine.ProcessRequest: invalid request", "error", err, "sessionID", req.SessionID)
		return models.End("Invalid request")
	}

	release := e.locks.acquire(req.SessionID)
	defer release()

	response, err := e.process(ctx, req)
	if err != nil {
		slog.Error("Engine.ProcessRequest: request failed", "error", err,
			"sessionID", req.SessionID, "phone", req.PhoneNumber)
		return models.End(GenericErrorMessage)
	}
	return response
}

// process runs the segmentation and execution algorithm for one request.
// The session is a store-owned copy; it is persisted only on success so a
// failed request leaves the last good state intact.
func (e *Engine) process(ctx context.Context, req models.USSDRequest) (response string, err error) {
	// Collaborator panics are request failures, not process crashes.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()

	sess, isNew, err := e.sessions.GetOrCreate(ctx, req.SessionID, req.PhoneNumber, e.registry.EntryStateName())
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}

	inputs := req.Inputs()
	depth := len(inputs)
	slog.Debug("Engine.process: dispatching", "sessionID", req.SessionID, "state", sess.CurrentState,
		"depth", depth, "processed", sess.InputCount, "new_session", isNew)

	var state *models.State
	input := ""

	switch {
	case depth == 0:
		// First request of a dialogue: reset to the entry state and render it.
		state, err = e.registry.EntryState()
		if err != nil {
			return "", err
		}
		sess.CurrentState = state.Name
		sess.InputCount = 0
	case depth > sess.InputCount:
		// Genuinely new input: run the full validator/handler path.
		state, err = e.registry.Get(sess.CurrentState)
		if err != nil {
			return "", err
		}
		sess.InputCount = depth
		input = inputs[depth-1]
	default:
		// Duplicate or out-of-order delivery of an already-processed step:
		// re-render the current state without re-invoking any side effect.
		state, err = e.registry.Get(sess.CurrentState)
		if err != nil {
			return "", err
		}
	}

	response, err = e.executeState(ctx, state, sess, input, req.PhoneNumber)
	if err != nil {
		return "", err
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("session save: %w", err)
	}
	return response, nil
}

// executeState runs the per-state algorithm as an explicit bounded loop.
// Menu navigation and generator redirects advance through states that need
// no further user action; exceeding maxHops means the graph is cyclic.
func (e *Engine) executeState(ctx context.Context, state *models.State, sess *models.Session, input, phone string) (string, error) {
	for hops := 0; ; hops++ {
		if hops >= e.maxHops {
			return "", fmt.Errorf("%w: state %q after %d hops", models.ErrChainDepthExceeded, state.Name, hops)
		}

		// Menu navigation: a matching option key consumes the input and
		// advances into the target with none. Unmatched keys fall through
		// to re-render the current state.
		if input != "" && len(state.Options) > 0 {
			if opt, ok := state.Option(input); ok && opt.NextState != "" {
				next, err := e.registry.Get(opt.NextState)
				if err != nil {
					return "", err
				}
				slog.Debug("Engine.executeState: menu navigation", "sessionID", sess.ID,
					"from", state.Name, "to", next.Name, "key", input)
				sess.CurrentState = next.Name
				state, input = next, ""
				continue
			}
			slog.Debug("Engine.executeState: unmatched option key", "sessionID", sess.ID,
				"state", state.Name, "key", input)
		}

		if input != "" {
			if state.Validator != nil {
				result := state.Validator(input, sess)
				if !result.Valid {
					// Re-prompt; the session is not mutated.
					return models.Continue(result.Message + "\n\n" + state.Prompt), nil
				}
				if state.StoreKey != "" {
					value := result.Value
					if value == nil {
						value = input
					}
					sess.Data[state.StoreKey] = value
					slog.Debug("Engine.executeState: stored input", "sessionID", sess.ID,
						"state", state.Name, "key", state.StoreKey)
				}
			} else if state.StoreKey != "" {
				sess.Data[state.StoreKey] = input
			}

			if state.Handler != nil {
				message, err := state.Handler(ctx, sess, input, phone)
				if err != nil {
					return "", fmt.Errorf("handler for state %q: %w", state.Name, err)
				}
				if message != "" {
					return message, nil
				}
			}
		}

		if state.Kind == models.StateKindDynamic && state.Generator != nil {
			message, err := state.Generator(ctx, sess, phone)
			if err != nil {
				return "", fmt.Errorf("generator for state %q: %w", state.Name, err)
			}
			if message == "" {
				// Pure redirect: the generator moved the session elsewhere.
				next, err := e.registry.Get(sess.CurrentState)
				if err != nil {
					return "", err
				}
				state, input = next, ""
				continue
			}
			if models.HasDirective(message) {
				return message, nil
			}
			if state.Terminal {
				return models.End(message), nil
			}
			return models.Continue(message), nil
		}

		return renderState(state), nil
	}
}

// renderState builds the fallback response: the prompt followed by
// "key. label" lines for any options in registration order.
func renderState(state *models.State) string {
	message := state.Prompt
	if len(state.Options) > 0 {
		lines := make([]string, 0, len(state.Options))
		for _, opt := range state.Options {
			lines = append(lines, opt.Key+". "+opt.Label)
		}
		menu := strings.Join(lines, "\n")
		if message != "" {
			message += "\n\n" + menu
		} else {
			message = menu
		}
	}
	if state.Terminal {
		return models.End(message)
	}
	return models.Continue(message)
}
