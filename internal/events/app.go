// Package events defines the AT-GOOGLE NIGERIA event registration dialogue.
//
// Attendees register for a ticket, check in with it at the venue, and review
// their registration. Registrations live in process memory; the HTTP API
// exposes them for the check-in desk.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
	"github.com/BTreeMap/UssdPipe/internal/ussd"
	"github.com/BTreeMap/UssdPipe/internal/util"
)

// EventName labels the dialogue screens.
const EventName = "AT-GOOGLE NIGERIA"

// Session data keys
const (
	dataKeyName     = "name"
	dataKeyEmail    = "email"
	dataKeyTicketNo = "ticketNo"
)

// State names
const (
	stateEventHome        = "event_home"
	stateRegisterName     = "register_name"
	stateRegisterEmail    = "register_email"
	stateRegisterConfirm  = "register_confirm"
	stateCheckinTicket    = "checkin_ticket"
	stateCheckinConfirm   = "checkin_confirm"
	stateViewRegistration = "view_registration"
	stateEventInfo        = "event_info"
)

// Registration is one attendee record.
type Registration struct {
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	TicketNo     string    `json:"ticketNo"`
	RegisteredAt time.Time `json:"registeredAt"`
	CheckedIn    bool      `json:"checkedIn"`
}

// App holds the event registrations behind a mutex. One registration per
// phone number; re-registering replaces the previous ticket.
type App struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
}

// NewApp creates an empty event registration application.
func NewApp() *App {
	return &App{registrations: make(map[string]*Registration)}
}

// Registry builds the event dialogue graph.
func (a *App) Registry() (*ussd.Registry, error) {
	b := ussd.NewBuilder().SetEntryState(stateEventHome)

	b.Menu(stateEventHome, "Welcome to "+EventName+"!").
		Option("1", "Register for Event", stateRegisterName).
		Option("2", "Check-in (Already Registered)", stateCheckinTicket).
		Option("3", "View My Registration", stateViewRegistration).
		Option("4", "Event Info", stateEventInfo).
		Done()

	b.Input(stateRegisterName, "Enter your full name:", ussd.InputConfig{
		Validate: validateName,
		StoreAs:  dataKeyName,
		Handler: func(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
			sess.CurrentState = stateRegisterEmail
			return models.Continue(fmt.Sprintf("Hi %s!\n\nEnter your email address:", input)), nil
		},
	})

	b.Input(stateRegisterEmail, "Enter your email address:", ussd.InputConfig{
		Validate: validateEmail,
		StoreAs:  dataKeyEmail,
		Handler: func(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
			sess.CurrentState = stateRegisterConfirm
			return models.Continue(fmt.Sprintf("Confirm Registration:\n\nName: %s\nEmail: %s\nPhone: %s\n\n1. Confirm\n2. Cancel",
				sess.GetString(dataKeyName), input, phoneNumber)), nil
		},
	})

	b.Input(stateRegisterConfirm, "1. Confirm\n2. Cancel", ussd.InputConfig{
		Validate: ussd.Choice("1", "2"),
		Handler:  a.completeRegistration,
	})

	b.Input(stateCheckinTicket, "Enter your ticket number:", ussd.InputConfig{
		Validate: ussd.NotEmpty,
		Handler:  a.lookupTicket,
	})

	b.Input(stateCheckinConfirm, "Confirm check-in?\n1. Yes, check me in\n2. No, cancel", ussd.InputConfig{
		Validate: ussd.Choice("1", "2"),
		Handler:  a.completeCheckin,
	})

	b.Dynamic(stateViewRegistration, a.viewRegistration, ussd.DynamicConfig{Terminal: true})

	b.End(stateEventInfo,
		EventName+"\n\n"+
			"Date: March 15, 2024\n"+
			"Time: 9:00 AM - 5:00 PM\n"+
			"Venue: Go MY CODE\n\n"+
			"Contact: developerexperience@africastalking.com")

	return b.Build()
}

func validateName(input string, _ *models.Session) models.ValidationResult {
	if len(strings.TrimSpace(input)) < 2 {
		return models.ValidationResult{Message: "Invalid name. Please try again."}
	}
	return models.ValidationResult{Valid: true, Value: input}
}

func validateEmail(input string, _ *models.Session) models.ValidationResult {
	if !strings.Contains(input, "@") || !strings.Contains(input, ".") {
		return models.ValidationResult{Message: "Invalid email address.\n\nPlease try again with a valid email."}
	}
	return models.ValidationResult{Valid: true, Value: input}
}

// completeRegistration issues a ticket and records the registration.
func (a *App) completeRegistration(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	if input == "2" {
		return models.End("Registration cancelled.\n\nDial again to start over."), nil
	}

	reg := &Registration{
		Phone:        phoneNumber,
		Name:         sess.GetString(dataKeyName),
		Email:        sess.GetString(dataKeyEmail),
		TicketNo:     util.GenerateTicketNumber(),
		RegisteredAt: time.Now(),
	}

	a.mu.Lock()
	a.registrations[phoneNumber] = reg
	a.mu.Unlock()

	slog.Info("Event registration created", "phone", phoneNumber, "ticket", reg.TicketNo)

	return models.End(fmt.Sprintf("Registration Successful!\n\nName: %s\nTicket: %s\n\nSave your ticket number for check-in.\nSee you at %s!",
		reg.Name, reg.TicketNo, EventName)), nil
}

// lookupTicket resolves a ticket number and moves to check-in confirmation.
func (a *App) lookupTicket(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	ticketNo := strings.ToUpper(strings.TrimSpace(input))

	reg := a.findByTicket(ticketNo)
	if reg == nil {
		return models.End(fmt.Sprintf("Ticket %s not found.\n\nPlease check your ticket number and try again.", ticketNo)), nil
	}
	if reg.CheckedIn {
		return models.End(fmt.Sprintf("Already checked in!\n\nName: %s\nTicket: %s\n\nEnjoy the event!", reg.Name, ticketNo)), nil
	}

	sess.Data[dataKeyTicketNo] = ticketNo
	sess.CurrentState = stateCheckinConfirm
	return models.Continue(fmt.Sprintf("Found: %s\n\nConfirm check-in?\n1. Yes, check me in\n2. No, cancel", reg.Name)), nil
}

// completeCheckin marks the ticket checked in.
func (a *App) completeCheckin(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	if input == "2" {
		return models.End("Check-in cancelled.\n\nDial again when you're ready."), nil
	}

	ticketNo := sess.GetString(dataKeyTicketNo)

	a.mu.Lock()
	reg := a.findByTicketLocked(ticketNo)
	if reg != nil {
		reg.CheckedIn = true
	}
	a.mu.Unlock()

	if reg == nil {
		return models.End(fmt.Sprintf("Ticket %s not found.\n\nPlease check your ticket number and try again.", ticketNo)), nil
	}

	slog.Info("Event check-in completed", "ticket", ticketNo, "name", reg.Name)

	return models.End(fmt.Sprintf("Check-in successful!\n\nTicket: %s\n\nWelcome to %s!\nPlease proceed to the main hall.", ticketNo, EventName)), nil
}

// viewRegistration renders the caller's registration.
func (a *App) viewRegistration(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	a.mu.RLock()
	reg, ok := a.registrations[phoneNumber]
	var snapshot Registration
	if ok {
		snapshot = *reg
	}
	a.mu.RUnlock()

	if !ok {
		return models.End("You are not registered yet.\n\nDial again and select option 1 to register."), nil
	}

	status := "Not Checked In"
	if snapshot.CheckedIn {
		status = "Checked In"
	}
	return models.End(fmt.Sprintf("Your Registration:\n\nName: %s\nEmail: %s\nTicket: %s\nStatus: %s",
		snapshot.Name, snapshot.Email, snapshot.TicketNo, status)), nil
}

// Registrations returns all registrations ordered by registration time.
func (a *App) Registrations() []Registration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	all := make([]Registration, 0, len(a.registrations))
	for _, reg := range a.registrations {
		all = append(all, *reg)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RegisteredAt.Before(all[j].RegisteredAt) })
	return all
}

func (a *App) findByTicket(ticketNo string) *Registration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.findByTicketLocked(ticketNo)
}

func (a *App) findByTicketLocked(ticketNo string) *Registration {
	for _, reg := range a.registrations {
		if reg.TicketNo == ticketNo {
			return reg
		}
	}
	return nil
}
