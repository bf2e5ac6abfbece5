// Package orchestrator runs the client side of a call: search, connect, talk, end and
// settle consent, then loop. Every network step is a poll against the API.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"duet/internal/models"
	"duet/internal/privacy"
	"duet/internal/service"
	"duet/pkg/client"

	"github.com/sirupsen/logrus"
)

// State is a step of the client loop.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateConnecting
	StateInCall
	StateEnding
	StateConsent
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateInCall:
		return "in_call"
	case StateEnding:
		return "ending"
	case StateConsent:
		return "consent"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// API is the subset of the HTTP client the loop needs. *client.Client implements it.
type API interface {
	CreateSession(ctx context.Context, userID string) (*client.SessionRef, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	Match(ctx context.Context, sessionID, userID string) (*client.MatchResult, error)
	EndSession(ctx context.Context, sessionID string, duration int) error
	SendSignal(ctx context.Context, sessionID, fromUserID, toUserID, kind, payload string) (int64, error)
	FetchSignals(ctx context.Context, sessionID, userID string) ([]models.Signal, error)
	MarkSignalProcessed(ctx context.Context, signalID int64) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	UploadRecording(ctx context.Context, sessionID, filename string, duration int, data io.Reader) (*client.StoredRecording, error)
	CreateItem(ctx context.Context, sessionID, user1ID, user2ID, recordingPath string) (*models.PendingItem, error)
	GetItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error)
	UpdateItem(ctx context.Context, itemID string, update client.ItemUpdate) (*client.UpdateResult, error)
}

// Peer is one negotiated connection to the counterpart. Descriptions and candidates are
// opaque strings carried by the signal relay.
type Peer interface {
	CreateOffer(ctx context.Context) (string, error)
	HandleOffer(ctx context.Context, offer string) (string, error)
	HandleAnswer(ctx context.Context, answer string) error
	AddCandidate(candidate string) error
	// PendingCandidates drains the local candidates gathered since the last call.
	PendingCandidates() []string
	Connected() bool
	Close() error
}

// PeerFactory creates the peer of a matched session.
type PeerFactory interface {
	NewPeer(ctx context.Context, sessionID string, initiator bool) (Peer, error)
}

// Recording is a finished local recording ready for upload.
type Recording struct {
	Filename string
	Duration int
	Data     io.ReadCloser
}

// Recorder captures the call. Stop returns nil when nothing was recorded.
type Recorder interface {
	Start(ctx context.Context, sessionID string, peer Peer) error
	Stop(ctx context.Context) (*Recording, error)
	// Release frees local capture devices. Called only when the user leaves.
	Release() error
}

// Metadata is what the recording owner fills in before approving.
type Metadata struct {
	Title       string
	Description string
	Price       float64
	Tags        []string
}

// ConsentUI presents the post-call decision.
type ConsentUI interface {
	// Metadata asks the recording owner for the post details. Approve false rejects.
	Metadata(ctx context.Context, item *models.PendingItem) (meta Metadata, approve bool, err error)
	// Review asks the counterpart to approve or reject.
	Review(ctx context.Context, item *models.PendingItem) (approve bool, err error)
	// Settled reports the final answer of the update that ended this client's part.
	Settled(item *models.PendingItem, published bool)
}

// Action is the user's choice during a call.
type Action int

const (
	ActionContinue Action = iota
	// ActionSkip ends the call and searches again at once, keeping capture alive.
	ActionSkip
	// ActionHangup ends the call and releases capture.
	ActionHangup
)

// Call describes the current pairing.
type Call struct {
	SessionID     string
	CounterpartID string
	Counterpart   *models.UserProfile
	Initiator     bool
	StartedAt     time.Time
}

// CallUI is polled once per cycle while connecting and in a call.
type CallUI interface {
	OnMatched(call Call)
	OnMessage(msg models.Message)
	Next(ctx context.Context, call Call) Action
}

// WantAnother asks whether to search again after a call the user did not skip.
type WantAnother func(ctx context.Context) bool

// Options tune the loop.
type Options struct {
	UserID         string
	MatchInterval  time.Duration
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	ConsentTimeout time.Duration
	MessageLimit   int
	// Verbose logs ids unmasked.
	Verbose bool
	// OnState is called on every state change.
	OnState func(State)
}

func (o *Options) setDefaults() {
	if o.MatchInterval <= 0 {
		o.MatchInterval = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ConsentTimeout <= 0 {
		o.ConsentTimeout = time.Minute
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = 50
	}
}

// Orchestrator drives one user's calls until the user stops or ctx ends.
type Orchestrator struct {
	api      API
	peers    PeerFactory
	recorder Recorder
	callUI   CallUI
	consent  ConsentUI
	another  WantAnother
	opts     Options
	logger   *logrus.Logger

	mu    sync.Mutex
	state State
	peer  Peer
	// capturing is true between the first Start and Release.
	capturing bool
}

// New creates an orchestrator. Options.UserID is required.
func New(api API, peers PeerFactory, recorder Recorder, callUI CallUI, consent ConsentUI, another WantAnother, opts Options, logger *logrus.Logger) (*Orchestrator, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	opts.setDefaults()
	if another == nil {
		another = func(context.Context) bool { return false }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		api:      api,
		peers:    peers,
		recorder: recorder,
		callUI:   callUI,
		consent:  consent,
		another:  another,
		opts:     opts,
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// State returns the current step.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()
	if changed && o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

func (o *Orchestrator) sessionField(id string) string {
	if o.opts.Verbose {
		return id
	}
	return privacy.MaskSessionID(id)
}

// Run loops through calls until the user declines another one or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.shutdown()

	for {
		call, err := o.search(ctx)
		if err != nil {
			return err
		}

		call, action, err := o.talk(ctx, call)
		if err != nil {
			o.abandon(call)
			return err
		}

		rec, err := o.end(ctx, call, action)
		if err != nil {
			return err
		}

		if err := o.settle(ctx, call, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.WithError(err).WithField(service.LogFieldSessionID, o.sessionField(call.SessionID)).
				Warn("Consent step failed")
		}

		o.setState(StateIdle)
		if action == ActionSkip {
			continue
		}
		if !o.another(ctx) {
			o.setState(StateDone)
			return nil
		}
	}
}

// search creates a session and polls until it is paired. A session that ends while
// waiting (expired, or given up after losing a join race) is replaced by a new one.
func (o *Orchestrator) search(ctx context.Context) (Call, error) {
	o.setState(StateSearching)

	ref, err := o.api.CreateSession(ctx, o.opts.UserID)
	if err != nil {
		return Call{}, fmt.Errorf("failed to create session: %w", err)
	}
	o.logger.WithField(service.LogFieldSessionID, o.sessionField(ref.SessionID)).Info("Searching for a match")

	ticker := time.NewTicker(o.opts.MatchInterval)
	defer ticker.Stop()

	for {
		res, err := o.api.Match(ctx, ref.SessionID, o.opts.UserID)
		switch {
		case err == nil && res.Matched:
			return Call{
				SessionID:     res.SessionID,
				CounterpartID: res.CounterpartID,
				Counterpart:   res.Counterpart,
				Initiator:     res.Initiator,
			}, nil
		case err == nil && res.Status == models.SessionStatusEnded:
			o.logger.WithField(service.LogFieldSessionID, o.sessionField(ref.SessionID)).Info("Waiting session ended, starting over")
			if ref, err = o.api.CreateSession(ctx, o.opts.UserID); err != nil {
				return Call{}, fmt.Errorf("failed to create session: %w", err)
			}
		case err != nil && ctx.Err() == nil:
			o.logger.WithError(err).Warn("Match poll failed")
		}

		select {
		case <-ctx.Done():
			o.abandon(Call{SessionID: ref.SessionID})
			return Call{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replacePeer closes the previous connection before creating the next one.
func (o *Orchestrator) replacePeer(ctx context.Context, call Call) (Peer, error) {
	o.closePeer()

	peer, err := o.peers.NewPeer(ctx, call.SessionID, call.Initiator)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}
	o.mu.Lock()
	o.peer = peer
	o.mu.Unlock()
	return peer, nil
}

func (o *Orchestrator) closePeer() {
	o.mu.Lock()
	peer := o.peer
	o.peer = nil
	o.mu.Unlock()
	if peer != nil {
		if err := peer.Close(); err != nil {
			o.logger.WithError(err).Debug("Failed to close peer")
		}
	}
}

// talk connects and holds the call until the user or the counterpart ends it.
// A connect timeout counts as a skip. The returned call carries the connect time.
func (o *Orchestrator) talk(ctx context.Context, call Call) (Call, Action, error) {
	o.setState(StateConnecting)
	o.callUI.OnMatched(call)

	peer, err := o.replacePeer(ctx, call)
	if err != nil {
		return call, ActionSkip, err
	}
	neg := &negotiator{api: o.api, peer: peer, call: call, userID: o.opts.UserID, logger: o.logger}
	if call.Initiator {
		if err := neg.offer(ctx); err != nil {
			return call, ActionSkip, err
		}
	}

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(o.opts.ConnectTimeout)
	var lastMessageID int64

	for {
		if err := neg.exchange(ctx); err != nil && ctx.Err() == nil {
			o.logger.WithError(err).Warn("Signal exchange failed")
		}

		if o.State() == StateConnecting {
			if peer.Connected() {
				call.StartedAt = time.Now()
				o.startRecording(ctx, call, peer)
				o.setState(StateInCall)
				o.logger.WithField(service.LogFieldSessionID, o.sessionField(call.SessionID)).Info("Call connected")
			} else if time.Now().After(deadline) {
				o.logger.WithField(service.LogFieldSessionID, o.sessionField(call.SessionID)).Warn("Peer connection timed out")
				return call, ActionSkip, nil
			} else if o.remoteEnded(ctx, call) {
				o.logger.WithField(service.LogFieldSessionID, o.sessionField(call.SessionID)).Info("Counterpart left before connecting")
				return call, ActionSkip, nil
			}
		}

		if o.State() == StateInCall {
			lastMessageID = o.deliverMessages(ctx, call, lastMessageID)
			if o.remoteEnded(ctx, call) {
				return call, ActionContinue, nil
			}
		}

		if action := o.callUI.Next(ctx, call); action != ActionContinue {
			return call, action, nil
		}

		select {
		case <-ctx.Done():
			return call, ActionHangup, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) startRecording(ctx context.Context, call Call, peer Peer) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Start(ctx, call.SessionID, peer); err != nil {
		o.logger.WithError(err).Warn("Failed to start recording")
		return
	}
	o.mu.Lock()
	o.capturing = true
	o.mu.Unlock()
}

// deliverMessages hands chat lines newer than after to the UI and returns the newest id.
func (o *Orchestrator) deliverMessages(ctx context.Context, call Call, after int64) int64 {
	msgs, err := o.api.ListMessages(ctx, call.SessionID, o.opts.MessageLimit)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.WithError(err).Debug("Message poll failed")
		}
		return after
	}
	for _, m := range msgs {
		if m.ID > after {
			o.callUI.OnMessage(m)
			after = m.ID
		}
	}
	return after
}

func (o *Orchestrator) remoteEnded(ctx context.Context, call Call) bool {
	session, err := o.api.GetSession(ctx, call.SessionID)
	if err != nil {
		return false
	}
	return session.Status == models.SessionStatusEnded
}

// end closes the call and flushes the recording. Capture is released only on hangup.
func (o *Orchestrator) end(ctx context.Context, call Call, action Action) (*Recording, error) {
	o.setState(StateEnding)

	duration := 0
	if !call.StartedAt.IsZero() {
		duration = int(time.Since(call.StartedAt).Seconds())
	}
	if err := o.api.EndSession(ctx, call.SessionID, duration); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The counterpart may have ended it first.
		o.logger.WithError(err).Debug("End session rejected")
	}
	o.closePeer()

	var rec *Recording
	o.mu.Lock()
	capturing := o.capturing
	o.mu.Unlock()
	if capturing {
		var err error
		if rec, err = o.recorder.Stop(ctx); err != nil {
			o.logger.WithError(err).Warn("Failed to stop recording")
			rec = nil
		}
	}
	if action == ActionHangup {
		o.release()
	}
	return rec, nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	capturing := o.capturing
	o.capturing = false
	o.mu.Unlock()
	if capturing {
		if err := o.recorder.Release(); err != nil {
			o.logger.WithError(err).Debug("Failed to release capture")
		}
	}
}

// abandon ends a session on the way out, ignoring ctx cancellation.
func (o *Orchestrator) abandon(call Call) {
	if call.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.api.EndSession(ctx, call.SessionID, 0); err != nil {
		o.logger.WithError(err).Debug("Failed to end abandoned session")
	}
}

func (o *Orchestrator) shutdown() {
	o.closePeer()
	if o.recorder != nil {
		o.mu.Lock()
		capturing := o.capturing
		o.mu.Unlock()
		if capturing {
			if rec, err := o.recorder.Stop(context.Background()); err == nil && rec != nil && rec.Data != nil {
				_ = rec.Data.Close()
			}
		}
		o.release()
	}
}
