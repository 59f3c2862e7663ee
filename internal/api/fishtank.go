package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/negotiation"
	"github.com/MrWong99/fishtank/internal/session"
)

// judgeView is the public roster entry of a judge.
type judgeView struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	VoiceID    string       `json:"voice_id,omitempty"`
	Conviction int          `json:"conviction"`
	Out        bool         `json:"out"`
	Offer      *judge.Offer `json:"offer,omitempty"`
}

func roster(s *session.Session) []judgeView {
	out := make([]judgeView, len(s.Judges))
	for i, j := range s.Judges {
		out[i] = judgeView{
			ID:         j.ID,
			Name:       j.Name,
			VoiceID:    j.VoiceID,
			Conviction: j.Conviction,
			Out:        j.Out(),
			Offer:      j.Offer,
		}
	}
	return out
}

type startResponse struct {
	SessionID string                 `json:"session_id"`
	Judges    []judgeView            `json:"judges"`
	Greeting  negotiation.JudgeReply `json:"greeting"`
}

type replyRequest struct {
	Message  string `json:"message"`
	AudioRef string `json:"audio_ref,omitempty"`
}

type turnResponse struct {
	Stage               session.Stage            `json:"stage"`
	Judges              []judgeView              `json:"judges"`
	Replies             []negotiation.JudgeReply `json:"replies"`
	AcceptedOffer       *session.AcceptedOffer   `json:"accepted_offer,omitempty"`
	EntrepreneurMessage string                   `json:"entrepreneur_message,omitempty"`
}

func newTurnResponse(t *negotiation.Turn) turnResponse {
	replies := t.Replies
	if replies == nil {
		replies = []negotiation.JudgeReply{}
	}
	return turnResponse{
		Stage:               t.Session.Stage,
		Judges:              roster(t.Session),
		Replies:             replies,
		AcceptedOffer:       t.Session.Accepted,
		EntrepreneurMessage: t.EntrepreneurMessage,
	}
}

// handleStart handles POST /api/fishtank/sessions.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.StartSession(r.Context())
	if err != nil {
		writeFailure(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: st.Session.ID,
		Judges:    roster(st.Session),
		Greeting:  st.Greeting,
	})
}

// handleReply handles POST /api/fishtank/sessions/{id}/replies.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReplyBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := s.sessions.Reply(r.Context(), r.PathValue("id"), req.Message, req.AudioRef)
	if err != nil {
		writeFailure(w, r, "reply", err)
		return
	}
	writeJSON(w, http.StatusOK, newTurnResponse(turn))
}

// handleAutopilot handles POST /api/fishtank/sessions/{id}/autopilot.
func (s *Server) handleAutopilot(w http.ResponseWriter, r *http.Request) {
	turn, err := s.sessions.Autopilot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "autopilot", err)
		return
	}
	writeJSON(w, http.StatusOK, newTurnResponse(turn))
}

// handleGet handles GET /api/fishtank/sessions/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDelete handles DELETE /api/fishtank/sessions/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
