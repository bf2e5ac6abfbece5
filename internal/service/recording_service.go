package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"duet/internal/constants"
	"duet/internal/errors"
	"duet/internal/metrics"
	"duet/internal/models"
	"duet/internal/security"
	"duet/internal/validation"

	"github.com/sirupsen/logrus"
)

const recordingFilePrefix = "recording-"

// RecordingUpload is one uploaded call recording.
type RecordingUpload struct {
	SessionID string
	Extension string
	Duration  int
	Body      io.Reader
}

// StoredRecording describes where an upload ended up.
type StoredRecording struct {
	RecordingPath string `json:"recordingPath"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"fileSize"`
	Duration      int    `json:"duration"`
}

// RecordingService stores uploaded recordings on local disk.
type RecordingService struct {
	sessions SessionStore
	cfg      models.RecordingsConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewRecordingService creates a new recording service instance
func NewRecordingService(sessions SessionStore, cfg models.RecordingsConfig, logger *logrus.Logger) *RecordingService {
	if cfg.Dir == "" {
		cfg.Dir = constants.DefaultRecordingsDir
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = constants.DefaultMaxRecordingMB
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = []string{"webm", "mp4"}
	}
	return &RecordingService{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// MaxSizeBytes is the largest accepted upload.
func (r *RecordingService) MaxSizeBytes() int64 {
	return int64(r.cfg.MaxSizeMB) * constants.BytesPerMegabyte
}

// Save writes the upload under the recordings directory and records it on the session.
// The file only appears under its final name once fully written.
func (r *RecordingService) Save(ctx context.Context, up RecordingUpload) (*StoredRecording, error) {
	if err := validation.ValidateIdentifier("sessionId", up.SessionID); err != nil {
		return nil, err
	}
	if up.Body == nil {
		return nil, errors.NewMissingFieldError("file")
	}
	ext := strings.ToLower(strings.TrimPrefix(up.Extension, "."))
	if err := validation.ValidateRecordingExtension(ext, r.cfg.AllowedTypes); err != nil {
		return nil, err
	}
	if err := validation.ValidateDuration("duration", up.Duration); err != nil {
		return nil, err
	}

	session, err := r.sessions.GetSession(ctx, up.SessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	if session == nil {
		return nil, errors.NewNotFoundError("session", up.SessionID)
	}

	if err := os.MkdirAll(r.cfg.Dir, 0o750); err != nil {
		return nil, errors.NewRecordingError("create directory", err)
	}

	tmp, err := os.CreateTemp(r.cfg.Dir, ".upload-*")
	if err != nil {
		return nil, errors.NewRecordingError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	size, err := io.Copy(tmp, io.LimitReader(up.Body, r.MaxSizeBytes()+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.NewRecordingError("write file", err)
	}
	if err := validation.ValidateRecordingSize(size, r.cfg.MaxSizeMB); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s%s-%d.%s", recordingFilePrefix, up.SessionID, r.now().UnixMilli(), ext)
	if err := security.ValidateFileName(filename); err != nil {
		return nil, errors.NewValidationError("sessionId", up.SessionID, "cannot be used in a file name")
	}
	if err := os.Rename(tmpName, filepath.Join(r.cfg.Dir, filename)); err != nil {
		return nil, errors.NewRecordingError("store file", err)
	}

	stored := &StoredRecording{
		RecordingPath: path.Join(constants.DefaultRecordingsRoute, filename),
		Filename:      filename,
		FileSize:      size,
		Duration:      up.Duration,
	}
	if _, err := r.sessions.SetSessionRecording(ctx, up.SessionID, stored.RecordingPath, size, up.Duration, r.now()); err != nil {
		return nil, errors.NewDatabaseError("store session recording", err)
	}

	metrics.IncrementCounter(metrics.RecordingsStored, map[string]string{"type": ext}, "Recordings uploaded")
	metrics.AddToCounter(metrics.RecordingBytes, float64(size), nil, "Recording bytes uploaded")
	r.logger.WithFields(logrus.Fields{
		LogFieldSessionID: sessionField(ctx, up.SessionID),
		LogFieldFileName:  filename,
		LogFieldSize:      size,
	}).Info("Recording stored")
	return stored, nil
}

// Resolve maps a stored recording file name to its path on disk.
func (r *RecordingService) Resolve(filename string) (string, error) {
	if err := security.ValidateFileName(filename); err != nil || !strings.HasPrefix(filename, recordingFilePrefix) {
		return "", errors.NewNotFoundError("recording", filename)
	}
	p := filepath.Join(r.cfg.Dir, filename)
	if _, err := os.Stat(p); err != nil {
		return "", errors.NewNotFoundError("recording", filename)
	}
	return p, nil
}
