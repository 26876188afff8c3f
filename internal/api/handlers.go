// Package api provides HTTP handlers for UssdPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// parseUSSDRequest reads one gateway callback. Africa's Talking posts
// form-encoded fields; the JSON shape is accepted for manual testing.
func parseUSSDRequest(r *http.Request) (models.USSDRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req models.USSDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return models.USSDRequest{}, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return models.USSDRequest{}, err
	}
	return models.USSDRequest{
		SessionID:   r.PostFormValue("sessionId"),
		ServiceCode: r.PostFormValue("serviceCode"),
		PhoneNumber: r.PostFormValue("phoneNumber"),
		Text:        r.PostFormValue("text"),
	}, nil
}

// ussdHandler serves the lending dialogue gateway callback (POST /ussd).
func (s *Server) ussdHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.ussdHandler: processing callback", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.ussdHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseUSSDRequest(r)
	if err != nil {
		slog.Warn("Server.ussdHandler: failed to parse request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.ussdHandler: invalid callback", "error", err)
		writeUSSDBadRequest(w)
		return
	}

	response := s.lendingEngine.ProcessRequest(r.Context(), req)
	slog.Debug("Server.ussdHandler: responding", "sessionID", req.SessionID, "terminal", models.IsTerminal(response))
	writeUSSDResponse(w, response)
}

// eventHandler serves the event dialogue gateway callback (POST /ussd/event).
func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventHandler: processing callback", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseUSSDRequest(r)
	if err != nil {
		slog.Warn("Server.eventHandler: failed to parse request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.eventHandler: invalid callback", "error", err)
		writeUSSDBadRequest(w)
		return
	}

	response := s.eventEngine.ProcessRequest(r.Context(), req)
	writeUSSDResponse(w, response)
}

// simulatorRequest is the JSON body for the development simulator.
type simulatorRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	Text        string `json:"text"`
}

// simulatorResult echoes the session id so a client can continue the dialogue.
type simulatorResult struct {
	SessionID  string `json:"sessionId"`
	Response   string `json:"response"`
	IsTerminal bool   `json:"isTerminal"`
}

// simulatorHandler drives the lending dialogue without a gateway
// (POST /ussd/simulator). Omitting sessionId starts a new dialogue.
func (s *Server) simulatorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.simulatorHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.simulatorHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var simReq simulatorRequest
	if err := json.NewDecoder(r.Body).Decode(&simReq); err != nil {
		slog.Warn("Server.simulatorHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if simReq.SessionID == "" {
		simReq.SessionID = uuid.NewString()
		slog.Debug("Server.simulatorHandler: new simulated session", "sessionID", simReq.SessionID)
	}

	response := s.lendingEngine.ProcessRequest(r.Context(), models.USSDRequest{
		SessionID:   simReq.SessionID,
		ServiceCode: "*384#",
		PhoneNumber: simReq.PhoneNumber,
		Text:        simReq.Text,
	})

	writeJSONResponse(w, http.StatusOK, models.Success(simulatorResult{
		SessionID:  simReq.SessionID,
		Response:   response,
		IsTerminal: models.IsTerminal(response),
	}))
}

// registrationsHandler lists event registrations for the check-in desk
// (GET /ussd/event/registrations).
func (s *Server) registrationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.registrationsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.registrationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	registrations := s.eventsApp.Registrations()
	slog.Debug("Server.registrationsHandler: registrations fetched", "count", len(registrations))
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"registrations": registrations,
	})
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
