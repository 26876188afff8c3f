// Package models defines the core data structures for UssdPipe.
//
// It includes the USSD wire types, the dialogue session, state definitions,
// and the error taxonomy shared across modules.
package models

import (
	"errors"
	"strings"
)

// Directive prefixes for USSD responses. The transport keeps the session
// open on ContinuePrefix and tears it down on EndPrefix.
const (
	// ContinuePrefix marks a response that expects further input.
	ContinuePrefix = "CON"
	// EndPrefix marks a response that terminates the dialogue.
	EndPrefix = "END"
	// InputSeparator joins accumulated inputs in the request text field.
	InputSeparator = "*"
)

// Error variables for better error handling and testability
var (
	ErrDuplicateState     = errors.New("state already registered")
	ErrUnknownState       = errors.New("state not registered")
	ErrNoEntryState       = errors.New("entry state not configured")
	ErrChainDepthExceeded = errors.New("state chain depth exceeded")
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrEmptyPhoneNumber   = errors.New("phone number cannot be empty")
)

// USSDRequest represents one inbound gateway callback. Text carries every
// input entered so far in this dialogue, joined by InputSeparator.
type USSDRequest struct {
	SessionID   string `json:"sessionId"`
	ServiceCode string `json:"serviceCode"`
	PhoneNumber string `json:"phoneNumber"`
	Text        string `json:"text"`
}

// Validate checks the fields the engine cannot work without.
func (r *USSDRequest) Validate() error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if r.PhoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	return nil
}

// Inputs splits the accumulated text into the ordered input tokens.
// An empty text yields no tokens (the first request of a dialogue).
func (r *USSDRequest) Inputs() []string {
	if r.Text == "" {
		return nil
	}
	return strings.Split(r.Text, InputSeparator)
}

// Continue formats a response that keeps the dialogue open.
func Continue(message string) string {
	return ContinuePrefix + " " + message
}

// End formats a response that terminates the dialogue.
func End(message string) string {
	return EndPrefix + " " + message
}

// HasDirective reports whether the message already carries a CON/END prefix.
// Dynamic generators may return fully-formed responses; those pass through
// the engine unchanged.
func HasDirective(message string) bool {
	return strings.HasPrefix(message, ContinuePrefix) || strings.HasPrefix(message, EndPrefix)
}

// IsTerminal reports whether a formatted response ends the dialogue.
func IsTerminal(response string) bool {
	return strings.HasPrefix(response, EndPrefix)
}

// APIStatus represents the status of a JSON API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard JSON response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
