package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type createCallRequest struct {
	CallerID   domain.Identity `json:"callerId"`
	ReceiverID domain.Identity `json:"receiverId"`
	CallerData json.RawMessage `json:"callerData,omitempty"`
}

type createCallResponse struct {
	CallID   domain.CallID   `json:"callId"`
	RoomName domain.RoomName `json:"roomName"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type presenceResponse struct {
	Identity domain.Identity `json:"identity"`
	Online   bool            `json:"online"`
}

// CreateCall starts a call for a caller that is not on a websocket.
func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrBadRequest)
		return
	}
	if req.CallerID == "" || req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, domain.ErrIdentityRequired)
		return
	}

	sess, err := h.Dispatcher.InitiateCall(r.Context(), req.CallerID, req.ReceiverID, req.CallerData)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrReceiverUnreachable):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrIdentityRequired), errors.Is(err, domain.ErrBadRequest):
			writeError(w, http.StatusBadRequest, err)
		default:
			h.log.Error().Err(err).Msg("Failed to initiate call")
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, createCallResponse{CallID: sess.ID, RoomName: sess.RoomName})
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCallID(chi.URLParam(r, "callID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrBadRequest)
		return
	}
	sess, err := h.Dispatcher.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	identity := domain.Identity(chi.URLParam(r, "identity"))
	writeJSON(w, http.StatusOK, presenceResponse{Identity: identity, Online: h.Dispatcher.Online(identity)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}
