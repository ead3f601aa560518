package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/google/uuid"
)

// chatHandler handles POST /api/chat, one conversational turn per request.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("chatHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		slog.Debug("chatHandler generated session id", "sessionID", sessionID)
	}

	response, registered, err := s.engine.ProcessMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		slog.Error("chatHandler turn failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatResponse{
		Response:              response,
		SessionID:             sessionID,
		IsComplaintRegistered: registered,
		Timestamp:             time.Now(),
	}))
}

// registerHandler handles POST /api/complaint/register, the direct
// (non-conversational) registration path.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.RegisterComplaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("registerHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	complaintID, err := s.st.CreateComplaint(
		strings.TrimSpace(req.Name),
		strings.TrimSpace(req.Mobile),
		strings.TrimSpace(req.ComplaintDetails),
		"")
	if err != nil {
		if errors.Is(err, models.ErrComplaintConflict) {
			writeJSONResponse(w, http.StatusConflict, models.Error("Could not allocate a complaint id, please retry"))
			return
		}
		slog.Error("registerHandler create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register complaint"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Complaint registered successfully",
		map[string]string{"complaint_id": complaintID}))
}

// statusByIDHandler handles GET /api/complaint/status/{complaint_id}.
func (s *Server) statusByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	complaintID := strings.TrimPrefix(r.URL.Path, "/api/complaint/status/")
	if complaintID == "" || strings.Contains(complaintID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrMissingSelector.Error()))
		return
	}

	complaint, err := s.st.GetComplaint(strings.ToUpper(complaintID))
	if errors.Is(err, models.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Complaint not found"))
		return
	}
	if err != nil {
		slog.Error("statusByIDHandler lookup failed", "error", err, "complaintID", complaintID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to retrieve status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(complaint.Summary()))
}

// statusByMobileHandler handles POST /api/complaint/status, looking up the
// most recent complaint for a mobile number.
func (s *Server) statusByMobileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.StatusLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	complaint, err := s.st.GetComplaintByMobile(strings.TrimSpace(req.Mobile))
	if errors.Is(err, models.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No complaints found for this mobile number"))
		return
	}
	if err != nil {
		slog.Error("statusByMobileHandler lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to retrieve status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(complaint.Summary()))
}

// updateStatusHandler handles POST /api/complaint/update, the operator
// action that moves a complaint through its lifecycle. The optional note is
// appended to the transcript best-effort.
func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	err := s.st.UpdateStatus(strings.ToUpper(strings.TrimSpace(req.ComplaintID)), strings.TrimSpace(req.Status), strings.TrimSpace(req.Note))
	if errors.Is(err, models.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Complaint not found"))
		return
	}
	if err != nil {
		slog.Error("updateStatusHandler failed", "error", err, "complaintID", req.ComplaintID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Status updated", nil))
}

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}))
}
