package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// maxDatagram is the largest UDP payload; a refined FaceMesh frame encoded
// as JSON is well under it.
const maxDatagram = 65535

// UDPSourceConfig configures a UDPSource.
type UDPSourceConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Buffer      int // decoded frames waiting for Next
	Factory     UDPSocketFactory
	Clock       timeutil.Clock
}

// UDPStats are cumulative listener counters.
type UDPStats struct {
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors"`
	Dropped      uint64 `json:"dropped"`
}

// UDPSource receives landmark frames pushed by an external detector, one
// JSON-encoded landmarks.Frame per datagram. It implements
// landmarks.Source: Listen fills a bounded queue that Next drains. When
// the queue is full the newest frame is dropped so the tracker never runs
// behind the camera.
type UDPSource struct {
	config UDPSourceConfig
	frames chan landmarks.Frame
	done   chan struct{}
	addr   atomic.Value // net.Addr once listening

	packets, bytes, decodeErrors, dropped atomic.Uint64
	next                                  int64
}

// NewUDPSource applies defaults and returns an idle source.
func NewUDPSource(cfg UDPSourceConfig) *UDPSource {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &UDPSource{
		config: cfg,
		frames: make(chan landmarks.Frame, cfg.Buffer),
		done:   make(chan struct{}),
	}
}

// Stats returns a snapshot of the counters.
func (s *UDPSource) Stats() UDPStats {
	return UDPStats{
		Packets:      s.packets.Load(),
		Bytes:        s.bytes.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Dropped:      s.dropped.Load(),
	}
}

// LocalAddr returns the bound address, or nil before Listen has bound.
func (s *UDPSource) LocalAddr() net.Addr {
	if a, ok := s.addr.Load().(net.Addr); ok {
		return a
	}
	return nil
}

// Listen binds the socket and receives until ctx is cancelled. It must be
// called once; Next reports io.EOF after it returns and the queue drains.
func (s *UDPSource) Listen(ctx context.Context) error {
	defer close(s.done)

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := s.config.Factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	s.addr.Store(conn.LocalAddr())

	if s.config.RcvBuf > 0 {
		if err := conn.SetReadBuffer(s.config.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", s.config.RcvBuf, err)
		}
	}
	monitoring.Logf("UDP landmark listener started on %s", conn.LocalAddr())

	go s.logStats(ctx)

	buffer := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP landmark listener stopping")
			return ctx.Err()
		default:
		}

		// Deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		if err := s.handlePacket(buffer[:n]); err != nil {
			monitoring.Debugf("bad landmark packet from %v: %v", from, err)
		}
	}
}

func (s *UDPSource) handlePacket(packet []byte) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(packet)))

	var f landmarks.Frame
	if err := json.Unmarshal(packet, &f); err != nil {
		s.decodeErrors.Add(1)
		return err
	}
	if f.Index == 0 {
		f.Index = s.next
	}
	s.next = f.Index + 1
	if f.Timestamp.IsZero() {
		f.Timestamp = s.config.Clock.Now()
	}

	select {
	case s.frames <- f:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *UDPSource) logStats(ctx context.Context) {
	ticker := s.config.Clock.NewTicker(s.config.LogInterval)
	defer ticker.Stop()

	var last UDPStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			st := s.Stats()
			if st.Packets == last.Packets {
				continue
			}
			monitoring.Logf("UDP landmarks: %d packets (%d bytes), %d decode errors, %d dropped in last interval",
				st.Packets-last.Packets, st.Bytes-last.Bytes, st.DecodeErrors-last.DecodeErrors, st.Dropped-last.Dropped)
			last = st
		}
	}
}

// Next returns the next received frame. It blocks until a frame arrives,
// ctx is cancelled, or the listener has stopped (io.EOF).
func (s *UDPSource) Next(ctx context.Context) (landmarks.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return landmarks.Frame{}, ctx.Err()
	case <-s.done:
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return landmarks.Frame{}, io.EOF
		}
	}
}
