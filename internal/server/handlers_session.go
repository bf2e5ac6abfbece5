package server

import (
	"net/http"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/service"

	"github.com/gorilla/mux"
)

type userRequest struct {
	UserID string `json:"userId"`
}

type sessionUserRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type endSessionRequest struct {
	SessionID string `json:"sessionId"`
	Duration  int    `json:"duration"`
}

type sessionResponse struct {
	SessionID  string               `json:"sessionId"`
	Status     models.SessionStatus `json:"status"`
	IsExisting *bool                `json:"isExisting,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithUser(r.Context(), req.UserID)

		session, err := s.svc.Sessions.Create(ctx, req.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, sessionResponse{SessionID: session.ID, Status: session.Status})
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.svc.Sessions.Get(r.Context(), mux.Vars(r)["sessionId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionUserRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		result, err := s.svc.Sessions.MatchOrPoll(ctx, req.SessionID, req.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleCatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionUserRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		session, err := s.svc.Sessions.Catch(ctx, req.SessionID, req.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sessionResponse{SessionID: session.ID, Status: session.Status})
	}
}

func (s *Server) handleCreateTargeted() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		targeted, err := s.svc.Sessions.CreateTargeted(r.Context(), req.UserID, mux.Vars(r)["targetUsername"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		status := http.StatusCreated
		if targeted.IsExisting {
			status = http.StatusOK
		}
		s.writeJSON(w, status, sessionResponse{
			SessionID:  targeted.Session.ID,
			Status:     targeted.Session.Status,
			IsExisting: &targeted.IsExisting,
		})
	}
}

func (s *Server) handleListWaiting() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dedupe, err := queryBool(r, "dedupe")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		entries, err := s.svc.Sessions.ListWaiting(r.Context(), service.WaitingOptions{
			Dedupe:        dedupe,
			ExcludeUserID: r.URL.Query().Get("excludeUserId"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleEndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req endSessionRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		if err := s.svc.Sessions.End(ctx, req.SessionID, req.Duration); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}
