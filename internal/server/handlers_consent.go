package server

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/service"

	"github.com/gorilla/mux"
)

const multipartMemory = 8 << 20

type createItemRequest struct {
	SessionID     string `json:"sessionId"`
	User1ID       string `json:"user1Id"`
	User2ID       string `json:"user2Id"`
	RecordingPath string `json:"recordingPath"`
}

// updateItemRequest mirrors models.PendingItemPatch; absent or null fields are left untouched.
type updateItemRequest struct {
	UserID       string                 `json:"userId"`
	Title        *string                `json:"title"`
	Description  *string                `json:"description"`
	Price        *float64               `json:"price"`
	CategoryTags *[]string              `json:"categoryTags"`
	User1Status  *models.ApprovalStatus `json:"user1_status"`
	User2Status  *models.ApprovalStatus `json:"user2_status"`
}

func (u updateItemRequest) patch() models.PendingItemPatch {
	return models.PendingItemPatch{
		Title:        u.Title,
		Description:  u.Description,
		Price:        u.Price,
		CategoryTags: u.CategoryTags,
		User1Status:  u.User1Status,
		User2Status:  u.User2Status,
	}
}

type proposeEditRequest struct {
	UserID   string `json:"userId"`
	Field    string `json:"field"`
	NewValue string `json:"newValue"`
}

func (s *Server) handleUploadRecording() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.svc.Recordings.MaxSizeBytes()+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if stderrors.As(err, &maxErr) {
				s.writeError(w, r, errors.NewValidationError("file", "", "recording exceeds the maximum size"))
				return
			}
			s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, errors.NewMissingFieldError("file"))
			return
		}
		defer file.Close()

		duration := 0
		if raw := r.FormValue("duration"); raw != "" {
			secs, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				s.writeError(w, r, errors.NewValidationError("duration", raw, "must be a number of seconds"))
				return
			}
			duration = int(math.Round(secs))
		}

		sessionID := r.FormValue("sessionId")
		ctx := errors.ContextWithSession(r.Context(), sessionID)

		stored, err := s.svc.Recordings.Save(ctx, service.RecordingUpload{
			SessionID: sessionID,
			Extension: s.media.Container(header.Filename, header.Header.Get("Content-Type")),
			Duration:  duration,
			Body:      file,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, stored)
	}
}

func (s *Server) handleServeRecording() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := s.svc.Recordings.Resolve(mux.Vars(r)["file"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", s.media.MimeType(path))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeFile(w, r, path)
	}
}

func (s *Server) handleCreateItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createItemRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithSession(r.Context(), req.SessionID)

		item, err := s.svc.Consent.CreateItem(ctx, service.CreateItemInput{
			SessionID:     req.SessionID,
			User1ID:       req.User1ID,
			User2ID:       req.User2ID,
			RecordingPath: req.RecordingPath,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, item)
	}
}

func (s *Server) handleGetItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.svc.Consent.GetItem(r.Context(), mux.Vars(r)["itemId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleGetItemBySession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.svc.Consent.GetItemBySession(r.Context(), mux.Vars(r)["sessionId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleListItemsForUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.svc.Consent.ListItemsForUser(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleUpdateItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateItemRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := errors.ContextWithUser(r.Context(), req.UserID)

		result, err := s.svc.Consent.UpdateItem(ctx, mux.Vars(r)["itemId"], req.UserID, req.patch())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleProposeEdit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proposeEditRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		edit, err := s.svc.Consent.ProposeEdit(r.Context(), mux.Vars(r)["itemId"], req.UserID, req.Field, req.NewValue)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, edit)
	}
}

func (s *Server) handleListEdits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		edits, err := s.svc.Consent.ListEdits(r.Context(), mux.Vars(r)["itemId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, edits)
	}
}

func (s *Server) handleApproveEdit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		edit, err := s.svc.Consent.ApproveEdit(r.Context(), mux.Vars(r)["editId"], req.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, edit)
	}
}

func (s *Server) handleGetPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := s.svc.Consent.GetPost(r.Context(), mux.Vars(r)["postId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, post)
	}
}

func (s *Server) handleListTaggedPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posts, err := s.svc.Consent.ListTaggedPosts(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, posts)
	}
}
