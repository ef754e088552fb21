// Package peer drives a single WebRTC connection between host and viewer:
// ICE configuration, offer/answer exchange over the relay, candidate
// trickling, media tracks and the "input" data channel.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/superdesk/pkg/fault"
	"github.com/tomaslejdung/superdesk/pkg/input"
	"github.com/tomaslejdung/superdesk/pkg/pubsub"
	"github.com/tomaslejdung/superdesk/pkg/signal"
)

// InputLabel is the label of the data channel carrying input commands.
const InputLabel = "input"

// Signaling is the part of the relay channel a Controller needs.
type Signaling interface {
	signal.Subscriber
	SendOffer(id string, sdp signal.SessionDescription) error
	SendAnswer(id string, sdp signal.SessionDescription) error
	SendIceCandidate(id string, candidate signal.IceCandidate) error
}

// LocalStream is a media source whose tracks are sent to the viewer.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	Stop() error
}

// dataChannel is the subset of *webrtc.DataChannel the controller uses.
type dataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	Close() error
}

// Options configures a Controller.
type Options struct {
	ICE    ICEOptions
	Logger *slog.Logger
	// API builds the peer connection. Nil uses pion's defaults.
	API *webrtc.API
}

// SendStats counts input commands handed to SendInputEvent.
type SendStats struct {
	Sent    uint64
	Dropped uint64
}

// Controller owns one peer connection for one session. It is never reused:
// after Close a new session needs a new Controller.
type Controller struct {
	signaling Signaling
	opts      Options
	logger    *slog.Logger

	mu          sync.Mutex
	role        Role
	sessionID   string
	pc          *webrtc.PeerConnection
	dc          dataChannel
	iceServers  []webrtc.ICEServer
	phase       Phase
	connType    string
	remote      []*webrtc.TrackRemote
	streams     []LocalStream
	unsubscribe []func()
	initialized bool
	closed      bool

	// negMu serializes descriptions and candidates against each other.
	negMu     sync.Mutex
	remoteSet bool
	offerSent bool
	pending   []webrtc.ICECandidateInit

	sent    atomic.Uint64
	dropped atomic.Uint64

	onTrack    pubsub.List[func(*webrtc.TrackRemote)]
	onPhase    pubsub.List[func(Phase)]
	onData     pubsub.List[func([]byte)]
	onDataOpen pubsub.List[func()]
	onError    pubsub.List[func(error)]
}

// NewController returns an uninitialized controller using signaling to reach the peer.
func NewController(signaling Signaling, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		signaling: signaling,
		opts:      opts,
		logger:    logger.With("component", "peer"),
		phase:     PhaseNew,
	}
}

// Initialize fetches ICE configuration, builds the peer connection and wires
// signaling for session sessionID. A host creates the input data channel; a
// viewer waits for it.
func (c *Controller) Initialize(ctx context.Context, role Role, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fault.Newf(fault.Configuration, "peer.initialize", "controller is closed")
	}
	if c.initialized {
		c.mu.Unlock()
		return fault.Newf(fault.Configuration, "peer.initialize", "already initialized")
	}
	c.initialized = true
	c.role = role
	c.sessionID = sessionID
	c.logger = c.logger.With("session", sessionID, "role", role)
	c.mu.Unlock()

	servers := c.opts.ICE.resolve(ctx, c.logger)

	var pc *webrtc.PeerConnection
	var err error
	config := c.opts.ICE.configuration(servers)
	if c.opts.API != nil {
		pc, err = c.opts.API.NewPeerConnection(config)
	} else {
		pc, err = webrtc.NewPeerConnection(config)
	}
	if err != nil {
		return fault.New(fault.Negotiation, "peer.initialize", fmt.Errorf("create peer connection: %w", err))
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while the ICE configuration was being fetched.
		c.mu.Unlock()
		pc.Close()
		return fault.Newf(fault.Configuration, "peer.initialize", "controller closed during initialization")
	}
	c.pc = pc
	c.iceServers = servers
	c.mu.Unlock()

	pc.OnICECandidate(c.handleLocalCandidate)
	pc.OnTrack(c.handleTrack)
	pc.OnConnectionStateChange(c.handleConnectionState)

	if role == RoleHost {
		ordered := true
		dc, err := pc.CreateDataChannel(InputLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			c.Close()
			return fault.New(fault.Negotiation, "peer.initialize", fmt.Errorf("create data channel: %w", err))
		}
		c.attachDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if !c.alive() {
				return
			}
			if dc.Label() != InputLabel {
				c.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			c.attachDataChannel(dc)
		})
	}

	unsubs := []func(){
		signal.On(c.signaling, signal.TypeOffer, c.handleOffer),
		signal.On(c.signaling, signal.TypeAnswer, c.handleAnswer),
		signal.On(c.signaling, signal.TypeICECandidate, c.handleRemoteCandidate),
	}
	c.mu.Lock()
	c.unsubscribe = unsubs
	c.mu.Unlock()

	c.logger.Info("peer connection initialized", "ice_servers", len(servers))
	return nil
}

// alive reports whether events should still be acted on.
func (c *Controller) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.pc != nil
}

func (c *Controller) peerConnection() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.pc
}

func (c *Controller) attachDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		if !c.alive() {
			return
		}
		c.logger.Info("data channel open", "label", dc.Label())
		for _, fn := range c.onDataOpen.Snapshot() {
			fn()
		}
	})
	dc.OnClose(func() {
		c.logger.Debug("data channel closed", "label", dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !c.alive() {
			return
		}
		for _, fn := range c.onData.Snapshot() {
			fn(msg.Data)
		}
	})
}

func (c *Controller) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	// nil marks the end of gathering
	if candidate == nil || !c.alive() {
		return
	}
	init := candidate.ToJSON()
	out := signal.IceCandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
	if err := c.signaling.SendIceCandidate(c.SessionID(), out); err != nil {
		c.logger.Warn("failed to send ICE candidate", "error", err)
	}
}

func (c *Controller) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if !c.alive() {
		return
	}
	c.mu.Lock()
	c.remote = append(c.remote, track)
	c.mu.Unlock()
	c.logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	for _, fn := range c.onTrack.Snapshot() {
		fn(track)
	}
}

func (c *Controller) handleConnectionState(state webrtc.PeerConnectionState) {
	if !c.alive() {
		return
	}
	phase := phaseFromState(state)
	c.mu.Lock()
	c.phase = phase
	pc := c.pc
	c.mu.Unlock()
	c.logger.Info("connection state", "state", state.String())

	if phase == PhaseConnected {
		connType := detectConnectionType(pc)
		c.mu.Lock()
		c.connType = connType
		c.mu.Unlock()
		c.logger.Info("peer connected", "type", connType)
	}
	c.emitPhase(phase)
}

func (c *Controller) emitPhase(phase Phase) {
	for _, fn := range c.onPhase.Snapshot() {
		fn(phase)
	}
}

// fail marks the connection Failed after a fatal negotiation error.
func (c *Controller) fail(err error) {
	if !c.alive() {
		return
	}
	c.mu.Lock()
	c.phase = PhaseFailed
	c.mu.Unlock()
	c.logger.Error("negotiation failed", "error", err)
	c.emitPhase(PhaseFailed)
	for _, fn := range c.onError.Snapshot() {
		fn(err)
	}
}

func (c *Controller) forThisSession(id string) bool {
	return signal.NormalizeSessionCode(id) == signal.NormalizeSessionCode(c.SessionID())
}

// handleOffer applies a remote offer and answers it.
func (c *Controller) handleOffer(d signal.Description) {
	if !c.alive() || !c.forThisSession(d.SessionID) {
		return
	}
	if c.Role() != RoleViewer {
		c.logger.Warn("host ignoring inbound offer")
		return
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()

	pc := c.peerConnection()
	if pc == nil {
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		c.fail(fault.New(fault.Negotiation, "peer.offer", fmt.Errorf("set remote description: %w", err)))
		return
	}
	c.remoteSet = true
	c.flushPendingLocked(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.fail(fault.New(fault.Negotiation, "peer.offer", fmt.Errorf("create answer: %w", err)))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.fail(fault.New(fault.Negotiation, "peer.offer", fmt.Errorf("set local description: %w", err)))
		return
	}
	if !c.alive() {
		return
	}
	out := signal.SessionDescription{Type: signal.SDPAnswer, SDP: answer.SDP}
	if err := c.signaling.SendAnswer(c.SessionID(), out); err != nil {
		c.logger.Warn("failed to send answer", "error", err)
	}
}

// handleAnswer applies the viewer's answer to our offer.
func (c *Controller) handleAnswer(d signal.Description) {
	if !c.alive() || !c.forThisSession(d.SessionID) {
		return
	}
	if c.Role() != RoleHost {
		c.logger.Warn("viewer ignoring inbound answer")
		return
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()

	if !c.offerSent {
		c.logger.Warn("answer received before any offer was sent")
		return
	}
	pc := c.peerConnection()
	if pc == nil {
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		c.fail(fault.New(fault.Negotiation, "peer.answer", fmt.Errorf("set remote description: %w", err)))
		return
	}
	c.remoteSet = true
	c.flushPendingLocked(pc)
}

// handleRemoteCandidate adds a trickled candidate, buffering it until a remote
// description exists. Rejected candidates are logged, never fatal.
func (c *Controller) handleRemoteCandidate(cand signal.Candidate) {
	if !c.alive() || !c.forThisSession(cand.SessionID) {
		return
	}
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate.Candidate,
		SDPMid:        cand.Candidate.SDPMid,
		SDPMLineIndex: cand.Candidate.SDPMLineIndex,
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()

	if !c.remoteSet {
		c.pending = append(c.pending, init)
		c.logger.Debug("buffering ICE candidate until remote description", "pending", len(c.pending))
		return
	}
	pc := c.peerConnection()
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(init); err != nil {
		c.logger.Warn("dropping ICE candidate", "error", err)
	}
}

// flushPendingLocked applies buffered candidates. negMu must be held.
func (c *Controller) flushPendingLocked(pc *webrtc.PeerConnection) {
	pending := c.pending
	c.pending = nil
	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			c.logger.Warn("dropping buffered ICE candidate", "error", err)
		}
	}
	if len(pending) > 0 {
		c.logger.Debug("applied buffered ICE candidates", "count", len(pending))
	}
}

// PendingCandidates returns the number of candidates waiting for a remote description.
func (c *Controller) PendingCandidates() int {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	return len(c.pending)
}

// ensureReceivers adds receive-only transceivers for any media kind that has
// none, so the offer asks for both video and audio.
func (c *Controller) ensureReceivers(pc *webrtc.PeerConnection) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		found := false
		for _, t := range pc.GetTransceivers() {
			if t.Kind() == kind {
				found = true
				break
			}
		}
		if found {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer creates an offer, sets it locally and sends it to the viewer.
// Only a host may offer, and only after Initialize.
func (c *Controller) CreateOffer() error {
	if c.Role() != RoleHost {
		return fault.Newf(fault.Configuration, "peer.offer", "only the host creates offers")
	}
	pc := c.peerConnection()
	if pc == nil {
		return fault.Newf(fault.Configuration, "peer.offer", "controller is not initialized")
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()

	if err := c.ensureReceivers(pc); err != nil {
		err = fault.New(fault.Negotiation, "peer.offer", err)
		c.fail(err)
		return err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		err = fault.New(fault.Negotiation, "peer.offer", fmt.Errorf("create offer: %w", err))
		c.fail(err)
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		err = fault.New(fault.Negotiation, "peer.offer", fmt.Errorf("set local description: %w", err))
		c.fail(err)
		return err
	}
	if !c.alive() {
		return nil
	}
	c.offerSent = true

	out := signal.SessionDescription{Type: signal.SDPOffer, SDP: offer.SDP}
	if err := c.signaling.SendOffer(c.SessionID(), out); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	c.logger.Info("offer sent")
	return nil
}

// AddStream attaches every track of stream. If an offer/answer round has
// already completed, a new offer is sent so the viewer picks up the tracks.
func (c *Controller) AddStream(stream LocalStream) error {
	if c.Role() != RoleHost {
		return fault.Newf(fault.Configuration, "peer.addStream", "only the host sends media")
	}
	pc := c.peerConnection()
	if pc == nil {
		return fault.Newf(fault.Configuration, "peer.addStream", "controller is not initialized")
	}

	for _, track := range stream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fault.New(fault.Negotiation, "peer.addStream", fmt.Errorf("add track %s: %w", track.ID(), err))
		}
		go drainRTCP(sender)
	}

	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()

	c.negMu.Lock()
	renegotiate := c.offerSent && pc.SignalingState() == webrtc.SignalingStateStable
	c.negMu.Unlock()
	if renegotiate {
		return c.CreateOffer()
	}
	return nil
}

// drainRTCP reads RTCP for a sender so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// SendInputEvent writes cmd to the data channel if it is open and silently
// drops it otherwise.
func (c *Controller) SendInputEvent(cmd input.Command) {
	c.mu.Lock()
	dc := c.dc
	closed := c.closed
	c.mu.Unlock()

	if closed || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		c.dropped.Add(1)
		return
	}
	text, err := input.Encode(cmd)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warn("dropping unencodable input", "error", err)
		return
	}
	c.sent.Add(1)
	if err := dc.SendText(text); err != nil {
		c.logger.Debug("input send failed", "error", err)
	}
}

// Stats returns input send counters.
func (c *Controller) Stats() SendStats {
	return SendStats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

// Close tears the connection down. Later events are ignored. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pc, dc, streams, unsubs := c.pc, c.dc, c.streams, c.unsubscribe
	c.pc, c.dc, c.streams, c.unsubscribe, c.remote = nil, nil, nil, nil, nil
	c.phase = PhaseClosed
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	var errs []error
	if dc != nil {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data channel: %w", err))
		}
	}
	for _, s := range streams {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		}
	}

	c.negMu.Lock()
	c.pending = nil
	c.negMu.Unlock()

	c.logger.Info("peer connection closed")
	return errors.Join(errs...)
}

// OnTrack registers fn for inbound media tracks.
func (c *Controller) OnTrack(fn func(*webrtc.TrackRemote)) (unsubscribe func()) {
	return c.onTrack.Add(fn)
}

// OnPhaseChange registers fn for connection phase changes.
func (c *Controller) OnPhaseChange(fn func(Phase)) (unsubscribe func()) {
	return c.onPhase.Add(fn)
}

// OnDataMessage registers fn for inbound data channel messages.
func (c *Controller) OnDataMessage(fn func([]byte)) (unsubscribe func()) {
	return c.onData.Add(fn)
}

// OnDataOpen registers fn to run when the input channel opens.
func (c *Controller) OnDataOpen(fn func()) (unsubscribe func()) {
	return c.onDataOpen.Add(fn)
}

// OnError registers fn for fatal negotiation errors.
func (c *Controller) OnError(fn func(error)) (unsubscribe func()) {
	return c.onError.Add(fn)
}

// Role returns the side this controller negotiates as.
func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SessionID returns the session the controller belongs to.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Phase returns the current connection phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// DataChannelPhase returns the state of the input channel.
func (c *Controller) DataChannelPhase() DataChannelPhase {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return DataChannelNone
	}
	return dataChannelPhase(dc.ReadyState())
}

// ICEServers returns the servers the connection was built with.
func (c *Controller) ICEServers() []webrtc.ICEServer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICEServer, len(c.iceServers))
	copy(out, c.iceServers)
	return out
}

// RemoteTracks returns the inbound media tracks received so far.
func (c *Controller) RemoteTracks() []*webrtc.TrackRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(c.remote))
	copy(out, c.remote)
	return out
}

// ConnectionType reports "direct", "relay" or "unknown" once connected.
func (c *Controller) ConnectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connType == "" {
		return "unknown"
	}
	return c.connType
}

// detectConnectionType checks if connection is direct or relayed
func detectConnectionType(pc *webrtc.PeerConnection) string {
	if pc == nil {
		return "unknown"
	}
	stats := pc.GetStats()

	for _, stat := range stats {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		local, ok := stats[pair.LocalCandidateID].(webrtc.ICECandidateStats)
		if !ok {
			continue
		}
		switch local.CandidateType {
		case webrtc.ICECandidateTypeRelay:
			return "relay"
		case webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
			return "direct"
		}
	}
	return "unknown"
}
