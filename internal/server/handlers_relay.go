package server

import (
	"net/http"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/service"

	"github.com/gorilla/mux"
)

type signalRequest struct {
	SessionID  string `json:"sessionId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	SignalType string `json:"signalType"`
	SignalData string `json:"signalData"`
}

type signalCreatedResponse struct {
	Success  bool  `json:"success"`
	SignalID int64 `json:"signalId"`
}

type signalsResponse struct {
	Signals []*models.Signal `json:"signals"`
}

type markProcessedRequest struct {
	SignalID int64 `json:"signalId"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
}

func (s *Server) handleSendSignal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signalRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		signal, err := s.svc.Relay.SendSignal(ctx, service.SignalInput{
			SessionID:  req.SessionID,
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
			Kind:       req.SignalType,
			Payload:    req.SignalData,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, signalCreatedResponse{Success: true, SignalID: signal.ID})
	}
}

func (s *Server) handleFetchSignals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		signals, err := s.svc.Relay.FetchSignals(r.Context(), q.Get("sessionId"), q.Get("userId"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, signalsResponse{Signals: signals})
	}
}

func (s *Server) handleMarkSignalProcessed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markProcessedRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := s.svc.Relay.MarkSignalProcessed(r.Context(), req.SignalID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

func (s *Server) handlePostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		msg, err := s.svc.Relay.PostMessage(ctx, req.SessionID, req.UserID, req.Content)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		msgs, err := s.svc.Relay.ListMessages(r.Context(), mux.Vars(r)["sessionId"], limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msgs)
	}
}
