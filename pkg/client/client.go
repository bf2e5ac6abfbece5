// Package client is a typed HTTP client for the duet video-call API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/tracing"
	"duet/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const apiPrefix = "/api/video-calls"

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxFailures consecutive server faults open the circuit for BreakerTimeout.
	MaxFailures    uint32
	BreakerTimeout time.Duration
}

// Client calls the API over HTTP. Server faults and transport errors trip a circuit
// breaker; workflow rejections such as a lost race do not.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

// APIError is a non-2xx answer decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       errors.ErrorCode
	Message    string
	Retryable  bool
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// HasCode reports whether err is an APIError carrying code.
func HasCode(err error, code errors.ErrorCode) bool {
	var apiErr *APIError
	return stderrors.As(err, &apiErr) && apiErr.Code == code
}

// isServerFault decides what counts against the circuit breaker.
func isServerFault(err error) bool {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return err != nil
}

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("duet-api", circuitbreaker.Options{
			MaxFailures: cfg.MaxFailures,
			Timeout:     cfg.BreakerTimeout,
			IsFailure:   isServerFault,
		}, logger),
		logger: logger,
	}
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if id := tracing.GetRequestID(ctx); id != "" {
			req.Header.Set(tracing.RequestIDHeader, id)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeError(resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: errors.ErrCodeInternalError}
	var envelope errors.HTTPErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Retryable = envelope.Error.Retryable
		apiErr.RequestID = envelope.RequestID
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	if in == nil {
		return c.do(ctx, method, path, nil, "", out)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

// SessionRef is the short session answer of create, catch and targeted calls.
type SessionRef struct {
	SessionID  string               `json:"sessionId"`
	Status     models.SessionStatus `json:"status"`
	IsExisting bool                 `json:"isExisting"`
}

// MatchResult is the answer to a match poll.
type MatchResult struct {
	Matched       bool                 `json:"matched"`
	SessionID     string               `json:"sessionId"`
	Status        models.SessionStatus `json:"status"`
	CounterpartID string               `json:"counterpartId"`
	Counterpart   *models.UserProfile  `json:"counterpart"`
	Initiator     bool                 `json:"initiator"`
}

func (c *Client) CreateSession(ctx context.Context, userID string) (*SessionRef, error) {
	var out SessionRef
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/sessions", map[string]string{"userId": userID}, &out)
	return &out, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var out models.Session
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/sessions/"+url.PathEscape(sessionID), nil, &out)
	return &out, err
}

func (c *Client) Match(ctx context.Context, sessionID, userID string) (*MatchResult, error) {
	var out MatchResult
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/match", map[string]string{"sessionId": sessionID, "userId": userID}, &out)
	return &out, err
}

func (c *Client) Catch(ctx context.Context, sessionID, userID string) (*SessionRef, error) {
	var out SessionRef
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/catch", map[string]string{"sessionId": sessionID, "userId": userID}, &out)
	return &out, err
}

func (c *Client) CreateTargeted(ctx context.Context, userID, targetUsername string) (*SessionRef, error) {
	var out SessionRef
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/to/"+url.PathEscape(targetUsername), map[string]string{"userId": userID}, &out)
	return &out, err
}

// ListWaiting returns the catch-board. A nil dedupe uses the server default.
func (c *Client) ListWaiting(ctx context.Context, excludeUserID string, dedupe *bool) ([]models.WaitingEntry, error) {
	q := url.Values{}
	if excludeUserID != "" {
		q.Set("excludeUserId", excludeUserID)
	}
	if dedupe != nil {
		q.Set("dedupe", strconv.FormatBool(*dedupe))
	}
	path := apiPrefix + "/waiting"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.WaitingEntry
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) EndSession(ctx context.Context, sessionID string, duration int) error {
	return c.doJSON(ctx, http.MethodPost, apiPrefix+"/end", map[string]interface{}{"sessionId": sessionID, "duration": duration}, nil)
}

// SendSignal posts one negotiation envelope and returns its id.
func (c *Client) SendSignal(ctx context.Context, sessionID, fromUserID, toUserID, kind, payload string) (int64, error) {
	var out struct {
		SignalID int64 `json:"signalId"`
	}
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/signal", map[string]string{
		"sessionId":  sessionID,
		"fromUserId": fromUserID,
		"toUserId":   toUserID,
		"signalType": kind,
		"signalData": payload,
	}, &out)
	return out.SignalID, err
}

func (c *Client) FetchSignals(ctx context.Context, sessionID, userID string) ([]models.Signal, error) {
	q := url.Values{"sessionId": {sessionID}, "userId": {userID}}
	var out struct {
		Signals []models.Signal `json:"signals"`
	}
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/signal?"+q.Encode(), nil, &out)
	return out.Signals, err
}

func (c *Client) MarkSignalProcessed(ctx context.Context, signalID int64) error {
	return c.doJSON(ctx, http.MethodPost, apiPrefix+"/signal/mark-processed", map[string]int64{"signalId": signalID}, nil)
}

func (c *Client) SendMessage(ctx context.Context, sessionID, userID, content string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/messages", map[string]string{
		"sessionId": sessionID, "userId": userID, "content": content,
	}, &out)
	return &out, err
}

// ListMessages returns the newest limit messages oldest first. Zero uses the server default.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	path := apiPrefix + "/messages/" + url.PathEscape(sessionID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// StoredRecording is the answer to an upload.
type StoredRecording struct {
	RecordingPath string `json:"recordingPath"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"fileSize"`
	Duration      int    `json:"duration"`
}

// UploadRecording sends a recording as multipart form data. filename's extension selects the container.
func (c *Client) UploadRecording(ctx context.Context, sessionID, filename string, duration int, data io.Reader) (*StoredRecording, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := mw.WriteField("duration", strconv.Itoa(duration)); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("failed to copy recording: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var out StoredRecording
	err = c.do(ctx, http.MethodPost, apiPrefix+"/upload-recording", &body, mw.FormDataContentType(), &out)
	return &out, err
}

func (c *Client) CreateItem(ctx context.Context, sessionID, user1ID, user2ID, recordingPath string) (*models.PendingItem, error) {
	var out models.PendingItem
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/pending-items", map[string]string{
		"sessionId": sessionID, "user1Id": user1ID, "user2Id": user2ID, "recordingPath": recordingPath,
	}, &out)
	return &out, err
}

func (c *Client) GetItem(ctx context.Context, itemID string) (*models.PendingItem, error) {
	var out models.PendingItem
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/pending-items/"+url.PathEscape(itemID), nil, &out)
	return &out, err
}

func (c *Client) GetItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error) {
	var out models.PendingItem
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/pending-items/session/"+url.PathEscape(sessionID), nil, &out)
	return &out, err
}

func (c *Client) ListItemsForUser(ctx context.Context, userID string) ([]models.PendingItem, error) {
	var out []models.PendingItem
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/pending-items/user/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// ItemUpdate is a partial update of a pending item; nil fields are not sent.
type ItemUpdate struct {
	UserID       string                 `json:"userId"`
	Title        *string                `json:"title,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Price        *float64               `json:"price,omitempty"`
	CategoryTags *[]string              `json:"categoryTags,omitempty"`
	User1Status  *models.ApprovalStatus `json:"user1_status,omitempty"`
	User2Status  *models.ApprovalStatus `json:"user2_status,omitempty"`
}

// UpdateResult reports whether the update published the item.
type UpdateResult struct {
	Item           *models.PendingItem `json:"item"`
	Published      bool                `json:"published"`
	PublishWarning string              `json:"publishWarning"`
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, update ItemUpdate) (*UpdateResult, error) {
	var out UpdateResult
	err := c.doJSON(ctx, http.MethodPatch, apiPrefix+"/pending-items/"+url.PathEscape(itemID), update, &out)
	return &out, err
}

func (c *Client) ProposeEdit(ctx context.Context, itemID, userID, field, newValue string) (*models.ItemEdit, error) {
	var out models.ItemEdit
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/pending-items/"+url.PathEscape(itemID)+"/edits", map[string]string{
		"userId": userID, "field": field, "newValue": newValue,
	}, &out)
	return &out, err
}

func (c *Client) ListEdits(ctx context.Context, itemID string) ([]models.ItemEdit, error) {
	var out []models.ItemEdit
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/pending-items/"+url.PathEscape(itemID)+"/edits", nil, &out)
	return out, err
}

func (c *Client) ApproveEdit(ctx context.Context, editID, userID string) (*models.ItemEdit, error) {
	var out models.ItemEdit
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/edits/"+url.PathEscape(editID)+"/approve", map[string]string{"userId": userID}, &out)
	return &out, err
}

func (c *Client) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var out models.Post
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/posts/"+url.PathEscape(postID), nil, &out)
	return &out, err
}

func (c *Client) ListTaggedPosts(ctx context.Context, userID string) ([]models.TaggedPost, error) {
	var out []models.TaggedPost
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/posts/tagged/"+url.PathEscape(userID), nil, &out)
	return out, err
}
