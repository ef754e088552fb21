package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/superdesk/pkg/fault"
	"github.com/tomaslejdung/superdesk/pkg/pubsub"
)

const (
	// DefaultRTPAddr is where an external encoder is expected to send RTP.
	DefaultRTPAddr = "127.0.0.1:5004"

	// maxPacketSize fits any RTP packet that survives a 1500 byte MTU.
	maxPacketSize = 1600
)

// RTPOptions configures an RTPSource.
type RTPOptions struct {
	Addr  string
	Codec Codec
	// Width and Height are the captured screen's resolution as reported to
	// the viewer.
	Width  int
	Height int
	Logger *slog.Logger
}

// RTPSource receives RTP packets on a UDP socket (e.g. from
// `ffmpeg -f x11grab ... -f rtp rtp://127.0.0.1:5004`) and writes them into a
// local track.
type RTPSource struct {
	addr   string
	codec  Codec
	width  int
	height int
	logger *slog.Logger
	track  *webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	conn      net.PacketConn
	done      chan struct{}
	capturing bool

	packets atomic.Uint64
	invalid atomic.Uint64

	onFrame pubsub.List[func(Frame)]
	onError pubsub.List[func(error)]
}

var _ Source = (*RTPSource)(nil)

// NewRTPSource creates the source's track. Nothing is bound until Start.
func NewRTPSource(opts RTPOptions) (*RTPSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultRTPAddr
	}
	codec := opts.Codec
	if codec == "" {
		codec = CodecVP8
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec.capability(), "video", "superdesk-screen")
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", codec, err)
	}
	return &RTPSource{
		addr:   addr,
		codec:  codec,
		width:  opts.Width,
		height: opts.Height,
		logger: logger.With("component", "capture"),
		track:  track,
	}, nil
}

// RequestPermission checks that the listen address is usable.
func (s *RTPSource) RequestPermission(ctx context.Context) (bool, error) {
	if _, err := net.ResolveUDPAddr("udp", s.addr); err != nil {
		return false, fault.New(fault.Configuration, "capture.permission", err)
	}
	return true, nil
}

// Start binds the UDP socket and begins forwarding packets. Starting a running
// source does nothing.
func (s *RTPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		return nil
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fault.New(fault.Configuration, "capture.start", err)
	}
	s.conn = conn
	s.done = make(chan struct{})
	s.capturing = true
	go s.readLoop(conn, s.done)
	s.logger.Info("rtp capture started", "addr", conn.LocalAddr().String(), "codec", string(s.codec))
	return nil
}

// Stop closes the socket and waits for the reader to exit. It is safe to call
// more than once.
func (s *RTPSource) Stop() error {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil
	}
	s.capturing = false
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	err := conn.Close()
	<-done
	s.logger.Info("rtp capture stopped", "packets", s.packets.Load(), "invalid", s.invalid.Load())
	return err
}

// IsCapturing reports whether the socket is bound.
func (s *RTPSource) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// OnFrame registers fn for every forwarded packet. fn runs on the reader
// goroutine and must not block.
func (s *RTPSource) OnFrame(fn func(Frame)) (unsubscribe func()) { return s.onFrame.Add(fn) }

// OnError registers fn for errors that stop the source.
func (s *RTPSource) OnError(fn func(error)) (unsubscribe func()) { return s.onError.Add(fn) }

// Tracks returns the local video track.
func (s *RTPSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Codec returns the stream's codec.
func (s *RTPSource) Codec() Codec { return s.codec }

// ScreenSize returns the configured capture resolution.
func (s *RTPSource) ScreenSize() (width, height int) { return s.width, s.height }

// LocalAddr returns the bound address, or nil when stopped.
func (s *RTPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Packets returns how many packets were forwarded.
func (s *RTPSource) Packets() uint64 { return s.packets.Load() }

func (s *RTPSource) readLoop(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.stopWithError(fault.New(fault.Transport, "capture.read", err))
			return
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			s.invalid.Add(1)
			s.logger.Debug("dropping invalid rtp packet", "size", n, "error", err)
			continue
		}
		if err := s.track.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Warn("writing rtp to track", "error", err)
		}
		s.packets.Add(1)

		frame := Frame{Packet: packet, Received: time.Now()}
		for _, fn := range s.onFrame.Snapshot() {
			fn(frame)
		}
	}
}

func (s *RTPSource) stopWithError(err error) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.capturing = false
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	s.logger.Error("rtp capture failed", "error", err)
	for _, fn := range s.onError.Snapshot() {
		fn(err)
	}
}
