package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// DefaultAvatarAddress is where the Unity and Live2D receivers listen.
const DefaultAvatarAddress = "127.0.0.1:5066"

// FormatValues renders one avatar message: every value as "%.4f " in order,
// trailing space included. Receivers split on spaces and read the first
// eleven fields.
func FormatValues(v [pipeline.NumOutputValues]float64) []byte {
	buf := make([]byte, 0, pipeline.NumOutputValues*10)
	for _, x := range v {
		buf = strconv.AppendFloat(buf, x, 'f', 4, 64)
		buf = append(buf, ' ')
	}
	return buf
}

// Dialer opens the avatar connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SenderConfig configures an AvatarSender.
type SenderConfig struct {
	Address           string
	Buffer            int           // queued frames before Send drops
	LogInterval       time.Duration // drop summary period
	ReconnectInterval time.Duration // minimum gap between dial attempts
	WriteTimeout      time.Duration
	Dialer            Dialer
	Clock             timeutil.Clock
}

// SenderStats are cumulative counters.
type SenderStats struct {
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"` // queue full
	Unsent      uint64 `json:"unsent"`  // no connection
	WriteErrors uint64 `json:"write_errors"`
	Connects    uint64 `json:"connects"`
}

// AvatarSender streams FrameOutputs to an avatar renderer over TCP, one
// write per frame. Send never blocks: frames are queued and dropped when
// the queue is full or the receiver is away. The connection is re-dialled
// after any write error.
type AvatarSender struct {
	config SenderConfig
	queue  chan [pipeline.NumOutputValues]float64

	sent, dropped, unsent, writeErrors, connects atomic.Uint64

	wg sync.WaitGroup
}

// NewAvatarSender applies defaults and returns an idle sender. Call Start
// to begin delivery.
func NewAvatarSender(cfg SenderConfig) *AvatarSender {
	if cfg.Address == "" {
		cfg.Address = DefaultAvatarAddress
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &AvatarSender{
		config: cfg,
		queue:  make(chan [pipeline.NumOutputValues]float64, cfg.Buffer),
	}
}

// Address returns the configured receiver address.
func (s *AvatarSender) Address() string { return s.config.Address }

// Send queues out for delivery.
func (s *AvatarSender) Send(out pipeline.FrameOutput) {
	select {
	case s.queue <- out.Values():
	default:
		s.dropped.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (s *AvatarSender) Stats() SenderStats {
	return SenderStats{
		Sent:        s.sent.Load(),
		Dropped:     s.dropped.Load(),
		Unsent:      s.unsent.Load(),
		WriteErrors: s.writeErrors.Load(),
		Connects:    s.connects.Load(),
	}
}

// Start launches the delivery goroutine. It stops when ctx is cancelled;
// Wait blocks until it has.
func (s *AvatarSender) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	monitoring.Logf("Sending avatar parameters to %s", s.config.Address)
}

// Wait blocks until the delivery goroutine exits.
func (s *AvatarSender) Wait() { s.wg.Wait() }

func (s *AvatarSender) run(ctx context.Context) {
	ticker := s.config.Clock.NewTicker(s.config.LogInterval)
	defer ticker.Stop()

	var (
		conn       net.Conn
		nextDial   time.Time
		lastErr    error
		lost       uint64
		dialFailed bool
	)
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case values := <-s.queue:
			if conn == nil {
				now := s.config.Clock.Now()
				if now.Before(nextDial) {
					s.unsent.Add(1)
					lost++
					continue
				}
				c, err := s.config.Dialer.DialContext(ctx, "tcp", s.config.Address)
				if err != nil {
					nextDial = now.Add(s.config.ReconnectInterval)
					if !dialFailed {
						monitoring.Logf("avatar receiver %s unavailable: %v", s.config.Address, err)
						dialFailed = true
					}
					s.unsent.Add(1)
					lost++
					lastErr = err
					continue
				}
				conn = c
				dialFailed = false
				s.connects.Add(1)
				monitoring.Logf("Connected to avatar receiver %s", s.config.Address)
			}

			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if _, err := conn.Write(FormatValues(values)); err != nil {
				s.writeErrors.Add(1)
				lost++
				lastErr = err
				conn.Close()
				conn = nil
				continue
			}
			s.sent.Add(1)

		case <-ticker.C():
			// Only log if frames were lost in this interval
			if lost > 0 && lastErr != nil {
				monitoring.Logf("\033[93mDropped %d avatar frames (latest: %v)\033[0m", lost, lastErr)
			}
			lost = 0
			lastErr = nil
		}
	}
}

// String describes the sender for logs.
func (s *AvatarSender) String() string {
	st := s.Stats()
	return fmt.Sprintf("avatar sender %s: sent=%d dropped=%d unsent=%d", s.config.Address, st.Sent, st.Dropped, st.Unsent)
}
