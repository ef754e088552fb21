package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/superdesk/pkg/capture"
	"github.com/tomaslejdung/superdesk/pkg/coords"
	"github.com/tomaslejdung/superdesk/pkg/input"
	"github.com/tomaslejdung/superdesk/pkg/peer"
	"github.com/tomaslejdung/superdesk/pkg/session"
	"github.com/tomaslejdung/superdesk/pkg/signal"
)

// Messages posted to the TUI by the app.
type (
	stateMsg struct {
		state session.State
	}
	peerPhaseMsg struct {
		phase    peer.Phase
		connType string
	}
	noticeMsg string
	errMsg    struct{ err error }
)

// app wires the session manager to a peer connection per guest. The host
// attaches the RTP capture source and injects received input; the viewer
// receives video and sends input.
type app struct {
	cfg    Config
	logger *slog.Logger

	channel *signal.Channel
	manager *session.Manager
	ice     []webrtc.ICEServer

	source *capture.RTPSource // host only

	mu    sync.Mutex
	ctrl  *peer.Controller
	codec *input.Codec // viewer only
	// view is the viewer surface, the terminal once its size is known.
	view coords.Size

	videoBytes atomic.Uint64
	videoCodec atomic.Value // string

	notifyMu sync.Mutex
	notify   func(tea.Msg)
}

func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	channel := signal.NewChannel(cfg.SignalURL, signal.ChannelOptions{Header: header, Logger: logger})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		channel: channel,
		manager: session.NewManager(channel, session.Options{Logger: logger}),
		notify:  func(tea.Msg) {},
		view:    coords.Size{Width: float64(cfg.ViewWidth), Height: float64(cfg.ViewHeight)},
	}

	if cfg.Mode == modeHost {
		source, err := capture.NewRTPSource(capture.RTPOptions{
			Addr:   cfg.RTPAddr,
			Codec:  cfg.Codec,
			Width:  cfg.ScreenWidth,
			Height: cfg.ScreenHeight,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		source.OnError(func(err error) { a.post(errMsg{err}) })
		a.source = source
	}

	a.manager.Subscribe(a.handleState)
	a.manager.On(session.EventGuestJoined, a.handleGuestJoined)
	a.manager.On(session.EventGuestLeft, func(session.Event) { a.post(noticeMsg("Guest left the session")) })
	a.manager.On(session.EventHostDisconnected, func(session.Event) { a.post(noticeMsg("Host disconnected")) })
	a.manager.On(session.EventSessionEnded, func(session.Event) { a.post(noticeMsg("Host ended the session")) })
	a.manager.On(session.EventError, func(ev session.Event) { a.post(errMsg{ev.(session.Error).Err}) })
	return a, nil
}

// setNotify directs app messages to the running program.
func (a *app) setNotify(fn func(tea.Msg)) {
	a.notifyMu.Lock()
	a.notify = fn
	a.notifyMu.Unlock()
}

func (a *app) post(msg tea.Msg) {
	a.notifyMu.Lock()
	fn := a.notify
	a.notifyMu.Unlock()
	fn(msg)
}

// start resolves ICE servers once and creates or joins the session. Resolving
// up front keeps peer setup off the network so it can run inline with the
// relay message that triggers it.
func (a *app) start(ctx context.Context) error {
	a.ice = peer.FetchICEServers(ctx, nil, a.cfg.ConfigServer, a.logger)

	switch a.cfg.Mode {
	case modeHost:
		ok, err := a.source.RequestPermission(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("capture permission denied")
		}
		return a.manager.CreateSession(ctx)
	case modeJoin:
		return a.manager.JoinSession(ctx, signal.NormalizeSessionCode(a.cfg.Code))
	default:
		return fmt.Errorf("unknown mode %q", a.cfg.Mode)
	}
}

// close ends the session and shuts the transport down.
func (a *app) close() {
	a.manager.EndSession()
	a.manager.Close()
	if a.source != nil {
		a.source.Stop()
	}
	a.channel.Disconnect()
}

func (a *app) iceOptions() peer.ICEOptions {
	return peer.ICEOptions{
		Servers:    a.ice,
		TURNServer: a.cfg.TURNServer,
		TURNUser:   a.cfg.TURNUser,
		TURNPass:   a.cfg.TURNPass,
		ForceRelay: a.cfg.ForceRelay,
	}
}

// newController creates a controller owned by the session manager.
func (a *app) newController() *peer.Controller {
	ctrl := peer.NewController(a.channel, peer.Options{ICE: a.iceOptions(), Logger: a.logger})
	a.manager.AttachPeer(ctrl)
	ctrl.OnPhaseChange(func(p peer.Phase) {
		a.manager.SetWebRTCConnected(p == peer.PhaseConnected)
		a.post(peerPhaseMsg{phase: p, connType: ctrl.ConnectionType()})
	})
	ctrl.OnError(func(err error) { a.post(errMsg{err}) })

	a.mu.Lock()
	a.ctrl = ctrl
	a.mu.Unlock()
	return ctrl
}

func (a *app) handleState(cur, prev session.State) {
	a.post(stateMsg{cur})

	if cur.Phase == session.PhaseGuestConnected && prev.Phase == session.PhaseJoining {
		if err := a.startViewer(cur.SessionID); err != nil {
			a.logger.Error("viewer setup failed", "error", err)
			a.post(errMsg{err})
		}
	}
	switch {
	case !cur.Active:
		a.mu.Lock()
		a.ctrl = nil
		a.codec = nil
		a.mu.Unlock()
	case cur.PeerID == "" && prev.PeerID != "":
		// A refreshed code drops the guest but keeps the session.
		a.mu.Lock()
		a.ctrl = nil
		a.mu.Unlock()
	}
}

func (a *app) handleGuestJoined(ev session.Event) {
	joined := ev.(session.GuestJoined)
	if err := a.startHost(joined.SessionID); err != nil {
		a.logger.Error("host setup failed", "guest", joined.GuestID, "error", err)
		a.post(errMsg{err})
	}
}

// startHost offers the capture track and the input channel to a new guest.
func (a *app) startHost(sessionID string) error {
	ctx := context.Background()
	ctrl := a.newController()
	if err := ctrl.Initialize(ctx, peer.RoleHost, sessionID); err != nil {
		return err
	}

	dispatcher := input.NewDispatcher(input.LogInjector{Logger: a.logger}, a.logger)
	ctrl.OnDataMessage(dispatcher.Handle)
	ctrl.OnDataOpen(func() {
		w, h := a.source.ScreenSize()
		ctrl.SendInputEvent(input.ScreenSize(w, h))
	})

	if err := a.source.Start(ctx); err != nil {
		return err
	}
	if err := ctrl.AddStream(a.source); err != nil {
		return err
	}
	if err := ctrl.CreateOffer(); err != nil {
		return err
	}
	return a.manager.SetScreenSharing(true)
}

// startViewer prepares to receive the host's offer.
func (a *app) startViewer(sessionID string) error {
	ctrl := a.newController()
	a.mu.Lock()
	view := a.view
	a.mu.Unlock()
	codec := input.NewCodec(ctrl, view, a.logger)

	dispatcher := input.NewDispatcher(nil, a.logger)
	dispatcher.OnScreenSize(func(s input.ScreenData) {
		codec.SetRemoteScreenSize(float64(s.Width), float64(s.Height))
		a.post(noticeMsg(fmt.Sprintf("Host screen is %dx%d", s.Width, s.Height)))
	})
	ctrl.OnDataMessage(dispatcher.Handle)
	ctrl.OnTrack(a.consumeTrack)

	a.mu.Lock()
	a.codec = codec
	a.mu.Unlock()

	return ctrl.Initialize(context.Background(), peer.RoleViewer, sessionID)
}

// consumeTrack reads a remote track until it ends. Decoding and display are
// left to an external renderer; the TUI shows throughput.
func (a *app) consumeTrack(track *webrtc.TrackRemote) {
	a.videoCodec.Store(track.Codec().MimeType)
	go func() {
		buf := make([]byte, 1600)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				if err != io.EOF {
					a.logger.Debug("remote track ended", "error", err)
				}
				return
			}
			a.videoBytes.Add(uint64(n))
		}
	}()
}

// video returns the received track's codec and byte count.
func (a *app) video() (codec string, bytes uint64) {
	codec, _ = a.videoCodec.Load().(string)
	return codec, a.videoBytes.Load()
}

// setViewSize records the viewer surface and applies it to a live codec.
func (a *app) setViewSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	a.mu.Lock()
	a.view = coords.Size{Width: float64(width), Height: float64(height)}
	codec := a.codec
	a.mu.Unlock()
	if codec != nil {
		codec.SetViewSize(float64(width), float64(height))
	}
}

// inputCodec returns the viewer's codec, or nil before the session is up.
func (a *app) inputCodec() *input.Codec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.codec
}

// controller returns the current peer controller, or nil.
func (a *app) controller() *peer.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl
}
