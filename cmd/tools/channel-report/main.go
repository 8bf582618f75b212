// Command channel-report charts raw against stabilized output channels and
// prints their jitter.
//
// It reads a recorded session from the store, optionally re-running the
// tracker over the stored landmarks with a different tuning config, or
// fetches the live jitter report from a running tracker.
//
// Usage:
//
//	go run ./cmd/tools/channel-report [flags]
//
// Flags:
//
//	-db        Session store (default: facetrack.db)
//	-session   Session ID (default: most recent)
//	-out       Output directory for HTML and PNG files (default: reports)
//	-channels  Comma-separated channels to chart (default: roll,pitch,yaw)
//	-replay    Re-run the tracker over the stored landmarks
//	-config    Tuning config for -replay
//	-url       Fetch the jitter report from a running tracker instead
//	-list      List sessions and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/face/monitor"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/storage"
	"github.com/banshee-data/facetrack/internal/httputil"
	"github.com/banshee-data/facetrack/internal/security"
)

func main() {
	dbFile := flag.String("db", "facetrack.db", "Path to the SQLite session store")
	sessionID := flag.String("session", "", "Session ID (default: most recent)")
	outDir := flag.String("out", "reports", "Output directory")
	channelList := flag.String("channels", "", "Comma-separated channels to chart")
	replay := flag.Bool("replay", false, "Re-run the tracker over the stored landmarks")
	configFile := flag.String("config", "", "Tuning config JSON for -replay")
	url := flag.String("url", "", "Fetch the jitter report from a running tracker, e.g. http://127.0.0.1:8082")
	list := flag.Bool("list", false, "List sessions and exit")
	flag.Parse()

	if *url != "" {
		var report []monitor.ChannelJitter
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httputil.GetJSON(ctx, httputil.NewStandardClient(nil), *url+"/debug/channels?format=json", &report); err != nil {
			log.Fatalf("Failed to fetch report: %v", err)
		}
		printJitter(os.Stdout, report)
		return
	}

	db, err := storage.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer db.Close()

	if *list {
		sessions, err := db.ListSessions()
		if err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		printSessions(os.Stdout, sessions)
		return
	}

	channels, err := monitor.ParseChannels(*channelList)
	if err != nil {
		log.Fatal(err)
	}

	session, err := pickSession(db, *sessionID)
	if err != nil {
		log.Fatal(err)
	}

	var samples []monitor.Sample
	if *replay {
		tuning := config.DefaultTuningConfig()
		if *configFile != "" {
			if tuning, err = config.LoadTuningConfig(*configFile); err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
		}
		samples, err = replaySession(context.Background(), db, session.ID, tuning)
	} else {
		var rows []storage.OutputRow
		rows, err = db.LoadOutputs(session.ID)
		samples = monitor.SamplesFromRows(rows)
	}
	if err != nil {
		log.Fatalf("Failed to load session %s: %v", session.ID, err)
	}
	log.Printf("Session %s: %d outputs", session.ID, len(samples))

	written, err := writeReport(*outDir, session.ID, samples, channels)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range written {
		log.Printf("Wrote %s", p)
	}
	printJitter(os.Stdout, monitor.JitterReport(samples))
}

// pickSession returns the named session, or the most recent one.
func pickSession(db *storage.DB, id string) (storage.Session, error) {
	if id != "" {
		return db.GetSession(id)
	}
	sessions, err := db.ListSessions()
	if err != nil {
		return storage.Session{}, err
	}
	if len(sessions) == 0 {
		return storage.Session{}, fmt.Errorf("no sessions in store")
	}
	return sessions[0], nil
}

// replaySession re-runs a fresh tracker over a stored session's landmarks.
func replaySession(ctx context.Context, db *storage.DB, id string, tuning *config.TuningConfig) ([]monitor.Sample, error) {
	src, err := storage.NewSessionSource(db, id)
	if err != nil {
		return nil, err
	}
	var samples []monitor.Sample
	sink := pipeline.SinkFunc(func(out pipeline.FrameOutput) {
		samples = append(samples, monitor.SampleFromOutput(out))
	})
	tracker := pipeline.NewTracker(pipeline.TrackerConfigFromTuning(tuning))
	if err := pipeline.NewRunner(tracker, src, sink).Run(ctx); err != nil {
		return nil, err
	}
	return samples, nil
}

// writeReport writes one HTML page with every channel and one PNG per
// channel under dir. It returns the written paths.
func writeReport(dir, sessionID string, samples []monitor.Sample, channels []int) ([]string, error) {
	if err := security.ValidateExportPath(dir); err != nil {
		return nil, fmt.Errorf("invalid output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	base := security.SanitizeFilename(sessionID)

	htmlPath := filepath.Join(dir, base+".html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return nil, err
	}
	if err := monitor.RenderChannels(f, samples, channels); err != nil {
		f.Close()
		return nil, fmt.Errorf("render %s: %w", htmlPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	written := []string{htmlPath}
	for _, ch := range channels {
		p := filepath.Join(dir, fmt.Sprintf("%s_%s.png", base, pipeline.OutputNames[ch]))
		if err := monitor.SavePlot(p, samples, ch); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func printJitter(w io.Writer, report []monitor.ChannelJitter) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tRAW\tSTABILIZED\tREDUCTION")
	for _, r := range report {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.1f%%\n", r.Name, r.Raw, r.Stabilized, 100*r.Reduction)
	}
	tw.Flush()
}

func printSessions(w io.Writer, sessions []storage.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSOURCE\tSTARTED\tFRAMES\tEMITTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.ID, s.Source, s.StartedAt.Format(time.RFC3339), s.FrameCount, s.EmittedCount)
	}
	tw.Flush()
}
