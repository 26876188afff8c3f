package ussd

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
	"github.com/BTreeMap/UssdPipe/internal/session"
)

// newTestEngine builds an engine over a small fruit-survey graph that
// exercises menus, validated input, handlers and dynamic states.
func newTestEngine(t *testing.T, handlerCalls *atomic.Int64) (*Engine, *session.MemoryStore) {
	t.Helper()

	b := NewBuilder().SetEntryState("main")
	b.Menu("main", "Fruit Survey").
		Option("1", "Vote", "vote").
		Option("2", "Results", "results").
		Done()
	b.Input("vote", "Name your favourite fruit:", InputConfig{
		Validate: NotEmpty,
		StoreAs:  "fruit",
		Handler: func(ctx context.Context, sess *models.Session, input, phone string) (string, error) {
			if handlerCalls != nil {
				handlerCalls.Add(1)
			}
			return models.End("Vote for " + input + " recorded."), nil
		},
	})
	b.Dynamic("results", func(ctx context.Context, sess *models.Session, phone string) (string, error) {
		return "Apples lead with 12 votes.", nil
	}, DynamicConfig{Terminal: true})

	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	store := NewMemoryTestStore(t)
	return NewEngine(registry, store), store
}

// NewMemoryTestStore creates a session store that is closed with the test.
func NewMemoryTestStore(t *testing.T, opts ...session.Option) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore(opts...)
	t.Cleanup(func() { store.Close() })
	return store
}

func request(text string) models.USSDRequest {
	return models.USSDRequest{
		SessionID:   "sess-1",
		ServiceCode: "*384#",
		PhoneNumber: "+2348012345678",
		Text:        text,
	}
}

func TestEntryStateRendered(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	got := engine.ProcessRequest(context.Background(), request(""))
	want := "CON Fruit Survey\n\n1. Vote\n2. Results"
	if got != want {
		t.Errorf("entry response = %q, want %q", got, want)
	}
}

func TestMenuNavigationRendersTarget(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.ProcessRequest(context.Background(), request(""))
	got := engine.ProcessRequest(context.Background(), request("1"))
	if got != "CON Name your favourite fruit:" {
		t.Errorf("navigation response = %q", got)
	}
}

func TestUnmatchedMenuKeyRerendersMenu(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.ProcessRequest(context.Background(), request(""))
	got := engine.ProcessRequest(context.Background(), request("9"))
	want := "CON Fruit Survey\n\n1. Vote\n2. Results"
	if got != want {
		t.Errorf("unmatched key response = %q, want %q", got, want)
	}
}

func TestDynamicTerminalState(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.ProcessRequest(context.Background(), request(""))
	got := engine.ProcessRequest(context.Background(), request("2"))
	if got != "END Apples lead with 12 votes." {
		t.Errorf("dynamic response = %q", got)
	}
}

func TestValidationFailureRepromptsWithoutMutation(t *testing.T) {
	var calls atomic.Int64
	engine, store := newTestEngine(t, &calls)
	ctx := context.Background()

	engine.ProcessRequest(ctx, request(""))
	engine.ProcessRequest(ctx, request("1"))

	got := engine.ProcessRequest(ctx, request("1*   "))
	want := "CON This field is required. Try again:\n\nName your favourite fruit:"
	if got != want {
		t.Errorf("reprompt = %q, want %q", got, want)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times on invalid input", calls.Load())
	}

	sess, isNew, err := store.GetOrCreate(ctx, "sess-1", "+2348012345678", "main")
	if err != nil || isNew {
		t.Fatalf("session lookup failed: err=%v isNew=%v", err, isNew)
	}
	if sess.CurrentState != "vote" {
		t.Errorf("state moved to %q on invalid input", sess.CurrentState)
	}
	if _, ok := sess.Data["fruit"]; ok {
		t.Error("invalid input was stored in session data")
	}
}

func TestReplayedRequestDoesNotReinvokeHandler(t *testing.T) {
	var calls atomic.Int64
	engine, _ := newTestEngine(t, &calls)
	ctx := context.Background()

	engine.ProcessRequest(ctx, request(""))
	engine.ProcessRequest(ctx, request("1"))

	first := engine.ProcessRequest(ctx, request("1*mango"))
	if first != "END Vote for mango recorded." {
		t.Fatalf("first response = %q", first)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls after first delivery = %d", calls.Load())
	}

	// Retransmission of the same accumulated text must not re-run the handler.
	second := engine.ProcessRequest(ctx, request("1*mango"))
	if calls.Load() != 1 {
		t.Errorf("handler calls after replay = %d, want 1", calls.Load())
	}
	if !strings.HasPrefix(second, "CON") && !strings.HasPrefix(second, "END") {
		t.Errorf("replay response missing directive: %q", second)
	}
}

func TestConcurrentDuplicatesInvokeHandlerOnce(t *testing.T) {
	var calls atomic.Int64
	engine, _ := newTestEngine(t, &calls)
	ctx := context.Background()

	engine.ProcessRequest(ctx, request(""))
	engine.ProcessRequest(ctx, request("1"))

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			engine.ProcessRequest(ctx, request("1*mango"))
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("handler calls under concurrent duplicates = %d, want 1", calls.Load())
	}
}

func TestCyclicRedirectsAreBounded(t *testing.T) {
	b := NewBuilder().SetEntryState("ping")
	redirect := func(target string) models.GeneratorFunc {
		return func(ctx context.Context, sess *models.Session, phone string) (string, error) {
			sess.CurrentState = target
			return "", nil
		}
	}
	b.Dynamic("ping", redirect("pong"), DynamicConfig{})
	b.Dynamic("pong", redirect("ping"), DynamicConfig{})
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	engine := NewEngine(registry, NewMemoryTestStore(t))

	got := engine.ProcessRequest(context.Background(), request(""))
	if got != models.End(GenericErrorMessage) {
		t.Errorf("cyclic graph response = %q, want generic END error", got)
	}
}

func TestGeneratorRedirectChainsIntoTarget(t *testing.T) {
	b := NewBuilder().SetEntryState("router")
	b.Dynamic("router", func(ctx context.Context, sess *models.Session, phone string) (string, error) {
		sess.CurrentState = "landing"
		return "", nil
	}, DynamicConfig{})
	b.Menu("landing", "You have arrived.").
		Option("1", "Onward", "landing").
		Done()
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	engine := NewEngine(registry, NewMemoryTestStore(t))

	got := engine.ProcessRequest(context.Background(), request(""))
	want := "CON You have arrived.\n\n1. Onward"
	if got != want {
		t.Errorf("redirect response = %q, want %q", got, want)
	}
}

func TestHandlerErrorYieldsGenericEnd(t *testing.T) {
	b := NewBuilder().SetEntryState("broken")
	b.Dynamic("broken", func(ctx context.Context, sess *models.Session, phone string) (string, error) {
		return "", context.DeadlineExceeded
	}, DynamicConfig{})
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	store := NewMemoryTestStore(t)
	engine := NewEngine(registry, store)

	got := engine.ProcessRequest(context.Background(), request(""))
	if got != models.End(GenericErrorMessage) {
		t.Errorf("error response = %q, want generic END error", got)
	}
}

func TestCollaboratorPanicYieldsGenericEnd(t *testing.T) {
	b := NewBuilder().SetEntryState("boom")
	b.Dynamic("boom", func(ctx context.Context, sess *models.Session, phone string) (string, error) {
		panic("generator exploded")
	}, DynamicConfig{})
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	engine := NewEngine(registry, NewMemoryTestStore(t))

	got := engine.ProcessRequest(context.Background(), request(""))
	if got != models.End(GenericErrorMessage) {
		t.Errorf("panic response = %q, want generic END error", got)
	}
}

func TestFailedRequestLeavesSessionUnsaved(t *testing.T) {
	fail := true
	b := NewBuilder().SetEntryState("main")
	b.Menu("main", "Main").
		Option("1", "Next", "flaky").
		Done()
	b.Dynamic("flaky", func(ctx context.Context, sess *models.Session, phone string) (string, error) {
		sess.Data["touched"] = true
		if fail {
			return "", context.DeadlineExceeded
		}
		return "Recovered.", nil
	}, DynamicConfig{Terminal: true})
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	store := NewMemoryTestStore(t)
	engine := NewEngine(registry, store)
	ctx := context.Background()

	engine.ProcessRequest(ctx, request(""))
	got := engine.ProcessRequest(ctx, request("1"))
	if got != models.End(GenericErrorMessage) {
		t.Fatalf("failing request response = %q", got)
	}

	// The failed request's partial mutations must not have been persisted.
	sess, _, err := store.GetOrCreate(ctx, "sess-1", "+2348012345678", "main")
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.InputCount != 0 {
		t.Errorf("input count persisted from failed request: %d", sess.InputCount)
	}
	if _, ok := sess.Data["touched"]; ok {
		t.Error("data mutation persisted from failed request")
	}

	// A retransmission after the fault clears succeeds from the saved state.
	fail = false
	got = engine.ProcessRequest(ctx, request("1"))
	if got != "END Recovered." {
		t.Errorf("retry response = %q", got)
	}
}

func TestInvalidRequestRejected(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	got := engine.ProcessRequest(context.Background(), models.USSDRequest{Text: "1"})
	if got != "END Invalid request" {
		t.Errorf("invalid request response = %q", got)
	}
}

func TestExpiredSessionRestartsAtEntry(t *testing.T) {
	var calls atomic.Int64
	b := NewBuilder().SetEntryState("main")
	b.Menu("main", "Fruit Survey").
		Option("1", "Vote", "vote").
		Done()
	b.Input("vote", "Name your favourite fruit:", InputConfig{
		Validate: NotEmpty,
		Handler: func(ctx context.Context, sess *models.Session, input, phone string) (string, error) {
			calls.Add(1)
			return models.End("Vote recorded."), nil
		},
	})
	registry, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	store := NewMemoryTestStore(t, session.WithTTL(30*time.Millisecond), session.WithSweepInterval(time.Hour))
	engine := NewEngine(registry, store)
	ctx := context.Background()

	engine.ProcessRequest(ctx, request(""))
	engine.ProcessRequest(ctx, request("1"))

	time.Sleep(60 * time.Millisecond)

	// The gateway still accumulates text, but the lapsed session restarts at
	// the entry state, so the latest token navigates the main menu again.
	got := engine.ProcessRequest(ctx, request("1*1"))
	if got != "CON Name your favourite fruit:" {
		t.Errorf("post-expiry response = %q", got)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times after expiry", calls.Load())
	}
}
