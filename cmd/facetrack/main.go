package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/monitor"
	"github.com/banshee-data/facetrack/internal/face/network"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/storage"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/version"
)

var (
	host        = flag.String("host", "127.0.0.1", "Avatar receiver host")
	port        = flag.Int("port", 5066, "Avatar receiver TCP port")
	connect     = flag.Bool("connect", false, "Stream parameters to the avatar receiver")
	sourceKind  = flag.String("source", "udp", "Landmark source: udp, file or session")
	udpAddr     = flag.String("udp-addr", "127.0.0.1:5067", "UDP address the landmark detector sends to")
	rcvBuf      = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	input       = flag.String("input", "-", "JSONL landmark file for -source=file (- for stdin)")
	sessionID   = flag.String("session", "", "Recorded session to replay for -source=session")
	dbFile      = flag.String("db", "facetrack.db", "Path to the SQLite session store")
	record      = flag.Bool("record", false, "Record frames and outputs to the session store")
	listen      = flag.String("listen", "127.0.0.1:8082", "Debug HTTP listen address (empty disables)")
	configFile  = flag.String("config", "", "Tuning config JSON (default: built-in values)")
	replayFPS   = flag.Float64("replay-fps", 30, "Replay rate for file and session sources (0 = as fast as possible)")
	history     = flag.Int("history", monitor.DefaultCapacity, "Frames kept for the channel charts")
	debugLog    = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debugLog)

	if err := run(); err != nil {
		log.Fatalf("facetrack: %v", err)
	}
}

// loadTuning returns the built-in tuning, or the file at path.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// framePeriod converts a replay rate to a frame period. Live sources are
// never paced.
func framePeriod(kind string, fps float64) time.Duration {
	if kind == "udp" || fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// needsStore reports whether the session store must be opened.
func needsStore(kind string, recording bool) bool {
	return recording || kind == "session"
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func run() error {
	tuning, err := loadTuning(*configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *storage.DB
	if needsStore(*sourceKind, *record) {
		db, err = storage.Open(*dbFile)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer db.Close()
	}

	var wg sync.WaitGroup

	var (
		source    landmarks.Source
		udp       *network.UDPSource
		listenErr error
	)
	switch *sourceKind {
	case "udp":
		udp = network.NewUDPSource(network.UDPSourceConfig{
			Address: *udpAddr,
			RcvBuf:  *rcvBuf,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udp.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				listenErr = fmt.Errorf("udp listener: %w", err)
				stop()
			}
		}()
		source = udp
	case "file":
		f, err := openInput(*input)
		if err != nil {
			return fmt.Errorf("open landmark file: %w", err)
		}
		defer f.Close()
		source = landmarks.NewJSONLSource(f)
	case "session":
		if *sessionID == "" {
			return errors.New("-source=session needs -session")
		}
		source, err = storage.NewSessionSource(db, *sessionID)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown source %q (want udp, file or session)", *sourceKind)
	}

	tracker := pipeline.NewTracker(pipeline.TrackerConfigFromTuning(tuning))
	channels := monitor.NewChannelRecorder(*history)
	broadcaster := network.NewBroadcaster()
	defer broadcaster.Close()
	sinks := []pipeline.OutputSink{channels, broadcaster}

	var sender *network.AvatarSender
	if *connect {
		sender = network.NewAvatarSender(network.SenderConfig{
			Address:           net.JoinHostPort(*host, strconv.Itoa(*port)),
			Buffer:            tuning.GetSendBuffer(),
			LogInterval:       tuning.GetSendLogInterval(),
			ReconnectInterval: tuning.GetReconnectInterval(),
		})
		sender.Start(ctx)
		sinks = append(sinks, sender)
	}

	runner := pipeline.NewRunner(tracker, source, sinks...)
	runner.SetFramePeriod(framePeriod(*sourceKind, *replayFPS))

	var recorder *storage.Recorder
	if *record {
		recorder, err = storage.NewRecorder(db, *sourceKind, nil)
		if err != nil {
			return err
		}
		runner.SetRecorder(recorder)
		log.Printf("recording session %s to %s", recorder.SessionID(), db.Path())
	}

	if *listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", broadcaster)
		mux.Handle("/debug/channels", monitor.NewHandler(channels))
		mux.Handle("/api/status", &statusHandler{
			tracker:     tracker,
			sender:      sender,
			udp:         udp,
			broadcaster: broadcaster,
			recorder:    recorder,
		})
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}

		server := &http.Server{Addr: *listen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					monitoring.Logf("debug server: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("debug server shutdown: %v", err)
			}
		}()
		log.Printf("debug server on http://%s/debug/channels", *listen)
	}

	runErr := runner.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// A finished replay stops the background goroutines too.
	stop()
	wg.Wait()
	if sender != nil {
		sender.Wait()
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			monitoring.Logf("close session: %v", err)
		}
	}

	st := tracker.Stats()
	log.Printf("processed %d frames, emitted %d, no face %d, rejected %d", st.Frames, st.Emitted, st.NoFace, st.Rejected)
	if runErr == nil {
		runErr = listenErr
	}
	return runErr
}
