// Package pionpeer adapts pion/webrtc to the orchestrator's Peer. Descriptions travel as
// JSON-encoded RTCSessionDescription and candidates as JSON-encoded RTCIceCandidateInit,
// the same shapes a browser client sends.
package pionpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duet/internal/orchestrator"
	"duet/internal/privacy"
	"duet/internal/service"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DataChannelLabel is the label of the channel opened by the initiator.
const DataChannelLabel = "duet"

// Config holds the ICE settings shared by every peer of a factory.
type Config struct {
	ICEServers []string
	// DisconnectedTimeout and FailedTimeout are handed to the ICE agent.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates, for peers on one host.
	IncludeLoopback bool
}

// DefaultConfig uses a public STUN server and forgiving ICE timeouts.
func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       2 * time.Minute,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds pion peers. It implements orchestrator.PeerFactory.
type Factory struct {
	api    *webrtc.API
	cfg    Config
	logger *logrus.Logger
}

// NewFactory registers the default codecs and interceptors once for all peers.
func NewFactory(cfg Config, logger *logrus.Logger) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	if logger == nil {
		logger = logrus.New()
	}
	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// NewPeer creates a receive-only connection. The initiator also opens the data channel.
func (f *Factory) NewPeer(ctx context.Context, sessionID string, initiator bool) (orchestrator.Peer, error) {
	servers := make([]webrtc.ICEServer, 0, len(f.cfg.ICEServers))
	for _, url := range f.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		pc:     pc,
		logger: f.logger.WithField(service.LogFieldSessionID, privacy.MaskSessionID(sessionID)),
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	pc.OnICECandidate(p.onCandidate)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.WithField(service.LogFieldStatus, state.String()).Debug("Peer connection state changed")
	})
	pc.OnDataChannel(p.attach)

	if initiator {
		dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		p.attach(dc)
	}
	return p, nil
}

// Peer is one pion connection driven through the signal relay.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *logrus.Entry

	mu        sync.Mutex
	pending   []string
	remote    []webrtc.ICECandidateInit
	hasRemote bool
	dc        *webrtc.DataChannel
	onMessage func([]byte)
}

func (p *Peer) onCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		p.logger.WithError(err).Warn("Failed to encode local candidate")
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, string(data))
	p.mu.Unlock()
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	if dc.Label() != DataChannelLabel {
		return
	}
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onMessage
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// CreateOffer sets and returns the local offer.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return encodeDescription(offer)
}

// HandleOffer applies the remote offer and returns the local answer.
func (p *Peer) HandleOffer(ctx context.Context, payload string) (string, error) {
	if err := p.setRemote(payload, webrtc.SDPTypeOffer); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return encodeDescription(answer)
}

// HandleAnswer applies the remote answer.
func (p *Peer) HandleAnswer(ctx context.Context, payload string) error {
	return p.setRemote(payload, webrtc.SDPTypeAnswer)
}

func (p *Peer) setRemote(payload string, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", want, err)
	}
	if desc.Type != want {
		return fmt.Errorf("expected %s, got %s", want, desc.Type)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	// Candidates that arrived before the description are applied now.
	p.mu.Lock()
	p.hasRemote = true
	queued := p.remote
	p.remote = nil
	p.mu.Unlock()
	for _, c := range queued {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.WithError(err).Warn("Failed to add queued candidate")
		}
	}
	return nil
}

// AddCandidate applies a remote candidate, queueing it until the remote description is set.
func (p *Peer) AddCandidate(payload string) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return fmt.Errorf("failed to decode candidate: %w", err)
	}

	p.mu.Lock()
	if !p.hasRemote {
		p.remote = append(p.remote, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

// PendingCandidates drains the local candidates gathered so far.
func (p *Peer) PendingCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// Connected reports whether ICE and DTLS are up.
func (p *Peer) Connected() bool {
	return p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// OnMessage registers the receiver of data channel frames.
func (p *Peer) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
}

// Send writes one frame to the data channel once it is open.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel is not open")
	}
	return dc.Send(data)
}

// Close tears the connection down.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func encodeDescription(desc webrtc.SessionDescription) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("failed to encode description: %w", err)
	}
	return string(data), nil
}
