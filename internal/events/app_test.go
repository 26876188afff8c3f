package events

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/UssdPipe/internal/models"
	"github.com/BTreeMap/UssdPipe/internal/session"
	"github.com/BTreeMap/UssdPipe/internal/ussd"
)

const testPhone = "+2348012345678"

type fixture struct {
	app    *App
	engine *ussd.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	app := NewApp()
	registry, err := app.Registry()
	if err != nil {
		t.Fatalf("failed to build dialogue: %v", err)
	}

	sessions := session.NewMemoryStore()
	t.Cleanup(func() { sessions.Close() })

	return &fixture{app: app, engine: ussd.NewEngine(registry, sessions)}
}

func (f *fixture) dial(t *testing.T, sessionID, phone, text string) string {
	t.Helper()
	return f.engine.ProcessRequest(context.Background(), models.USSDRequest{
		SessionID:   sessionID,
		ServiceCode: "*384#",
		PhoneNumber: phone,
		Text:        text,
	})
}

// register walks one attendee through the registration flow and returns the
// issued ticket number.
func (f *fixture) register(t *testing.T, sessionID, phone, name, email string) string {
	t.Helper()

	f.dial(t, sessionID, phone, "")
	f.dial(t, sessionID, phone, "1")
	f.dial(t, sessionID, phone, "1*"+name)
	f.dial(t, sessionID, phone, "1*"+name+"*"+email)
	got := f.dial(t, sessionID, phone, "1*"+name+"*"+email+"*1")
	if !strings.HasPrefix(got, "END Registration Successful!") {
		t.Fatalf("registration response = %q", got)
	}

	for _, reg := range f.app.Registrations() {
		if reg.Phone == phone {
			return reg.TicketNo
		}
	}
	t.Fatalf("no registration recorded for %s", phone)
	return ""
}

func TestEventMenuRendered(t *testing.T) {
	f := newFixture(t)

	got := f.dial(t, "ev-1", testPhone, "")
	want := "CON Welcome to AT-GOOGLE NIGERIA!\n\n1. Register for Event\n2. Check-in (Already Registered)\n3. View My Registration\n4. Event Info"
	if got != want {
		t.Errorf("menu = %q, want %q", got, want)
	}
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture(t)
	const sid = "ev-2"

	f.dial(t, sid, testPhone, "")
	got := f.dial(t, sid, testPhone, "1")
	if got != "CON Enter your full name:" {
		t.Fatalf("name prompt = %q", got)
	}

	got = f.dial(t, sid, testPhone, "1*Jane Doe")
	if got != "CON Hi Jane Doe!\n\nEnter your email address:" {
		t.Fatalf("email prompt = %q", got)
	}

	got = f.dial(t, sid, testPhone, "1*Jane Doe*jane@example.com")
	want := "CON Confirm Registration:\n\nName: Jane Doe\nEmail: jane@example.com\nPhone: " + testPhone + "\n\n1. Confirm\n2. Cancel"
	if got != want {
		t.Fatalf("confirmation = %q, want %q", got, want)
	}

	got = f.dial(t, sid, testPhone, "1*Jane Doe*jane@example.com*1")
	if !strings.HasPrefix(got, "END Registration Successful!\n\nName: Jane Doe\nTicket: TC") {
		t.Fatalf("registration response = %q", got)
	}

	regs := f.app.Registrations()
	if len(regs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(regs))
	}
	if regs[0].Name != "Jane Doe" || regs[0].Email != "jane@example.com" || regs[0].CheckedIn {
		t.Errorf("registration = %+v", regs[0])
	}
}

func TestRegistrationValidation(t *testing.T) {
	f := newFixture(t)
	const sid = "ev-3"

	f.dial(t, sid, testPhone, "")
	f.dial(t, sid, testPhone, "1")

	got := f.dial(t, sid, testPhone, "1*J")
	if got != "CON Invalid name. Please try again.\n\nEnter your full name:" {
		t.Errorf("short name response = %q", got)
	}

	f.dial(t, sid, testPhone, "1*J*Jane Doe")
	got = f.dial(t, sid, testPhone, "1*J*Jane Doe*not-an-email")
	if !strings.HasPrefix(got, "CON Invalid email address.") {
		t.Errorf("bad email response = %q", got)
	}
}

func TestRegistrationCancelled(t *testing.T) {
	f := newFixture(t)
	const sid = "ev-4"

	f.dial(t, sid, testPhone, "")
	f.dial(t, sid, testPhone, "1")
	f.dial(t, sid, testPhone, "1*Jane Doe")
	f.dial(t, sid, testPhone, "1*Jane Doe*jane@example.com")
	got := f.dial(t, sid, testPhone, "1*Jane Doe*jane@example.com*2")
	if got != "END Registration cancelled.\n\nDial again to start over." {
		t.Errorf("cancel response = %q", got)
	}
	if len(f.app.Registrations()) != 0 {
		t.Error("registration recorded despite cancellation")
	}
}

func TestCheckinFlow(t *testing.T) {
	f := newFixture(t)
	ticket := f.register(t, "ev-5", testPhone, "Jane Doe", "jane@example.com")

	const sid = "ev-6"
	f.dial(t, sid, testPhone, "")
	got := f.dial(t, sid, testPhone, "2")
	if got != "CON Enter your ticket number:" {
		t.Fatalf("ticket prompt = %q", got)
	}

	// Ticket lookup is case-insensitive.
	got = f.dial(t, sid, testPhone, "2*"+strings.ToLower(ticket))
	if got != "CON Found: Jane Doe\n\nConfirm check-in?\n1. Yes, check me in\n2. No, cancel" {
		t.Fatalf("lookup response = %q", got)
	}

	got = f.dial(t, sid, testPhone, "2*"+strings.ToLower(ticket)+"*1")
	want := "END Check-in successful!\n\nTicket: " + ticket + "\n\nWelcome to AT-GOOGLE NIGERIA!\nPlease proceed to the main hall."
	if got != want {
		t.Fatalf("check-in response = %q, want %q", got, want)
	}

	regs := f.app.Registrations()
	if len(regs) != 1 || !regs[0].CheckedIn {
		t.Errorf("registration after check-in = %+v", regs)
	}

	// A second attempt reports the existing check-in.
	const sid2 = "ev-7"
	f.dial(t, sid2, testPhone, "")
	f.dial(t, sid2, testPhone, "2")
	got = f.dial(t, sid2, testPhone, "2*"+ticket)
	if got != "END Already checked in!\n\nName: Jane Doe\nTicket: "+ticket+"\n\nEnjoy the event!" {
		t.Errorf("repeat check-in response = %q", got)
	}
}

func TestCheckinUnknownTicket(t *testing.T) {
	f := newFixture(t)
	const sid = "ev-8"

	f.dial(t, sid, testPhone, "")
	f.dial(t, sid, testPhone, "2")
	got := f.dial(t, sid, testPhone, "2*TC000000")
	if got != "END Ticket TC000000 not found.\n\nPlease check your ticket number and try again." {
		t.Errorf("unknown ticket response = %q", got)
	}
}

func TestViewRegistration(t *testing.T) {
	f := newFixture(t)

	f.dial(t, "ev-9", testPhone, "")
	got := f.dial(t, "ev-9", testPhone, "3")
	if got != "END You are not registered yet.\n\nDial again and select option 1 to register." {
		t.Fatalf("unregistered view response = %q", got)
	}

	ticket := f.register(t, "ev-10", testPhone, "Jane Doe", "jane@example.com")

	f.dial(t, "ev-11", testPhone, "")
	got = f.dial(t, "ev-11", testPhone, "3")
	want := "END Your Registration:\n\nName: Jane Doe\nEmail: jane@example.com\nTicket: " + ticket + "\nStatus: Not Checked In"
	if got != want {
		t.Errorf("view response = %q, want %q", got, want)
	}
}

func TestEventInfo(t *testing.T) {
	f := newFixture(t)

	f.dial(t, "ev-12", testPhone, "")
	got := f.dial(t, "ev-12", testPhone, "4")
	if !strings.HasPrefix(got, "END AT-GOOGLE NIGERIA\n\nDate: March 15, 2024") {
		t.Errorf("info response = %q", got)
	}
}

func TestRegistrationsOrderedByTime(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ev-13", "+2348011111111", "First Person", "first@example.com")
	f.register(t, "ev-14", "+2348022222222", "Second Person", "second@example.com")

	regs := f.app.Registrations()
	if len(regs) != 2 {
		t.Fatalf("registrations = %d, want 2", len(regs))
	}
	if regs[0].Name != "First Person" || regs[1].Name != "Second Person" {
		t.Errorf("registration order = %q, %q", regs[0].Name, regs[1].Name)
	}
}
