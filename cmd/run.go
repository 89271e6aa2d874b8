package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/locate"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/overlay"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/stream"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
)

// Options holds the run flags. A flag only overrides the config when it was set.
type Options struct {
	Source          string
	Threshold       float64
	Debounce        time.Duration
	EveryNth        int
	Mode            string
	SnapshotDir     string
	Watch           bool
	PixelateUnknown bool
	Duration        time.Duration
	Quiet           bool
}

var runOpts Options

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recognize faces in a stream and record attendance",
	Long: `Reads frames from a camera, video file or image directory, matches the first
face in each frame against the enrolled gallery, and records attendance.
A person is recorded at most once per debounce window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyRunFlags(Cfg, runOpts, cmd.Flags().Changed); err != nil {
			return err
		}
		return runStream(cmd.Context(), Cfg, runOpts, Logger)
	},
}

func init() {
	d := config.Default()
	runCmd.Flags().StringVarP(&runOpts.Source, "source", "s", d.Stream.Source, "Frame source: camera:<n>, dir:<path>, or a video file/URL")
	runCmd.Flags().Float64VarP(&runOpts.Threshold, "threshold", "t", d.Thresholds.Distance, "Accept a match when its squared distance is below this")
	runCmd.Flags().DurationVarP(&runOpts.Debounce, "debounce", "d", d.Stream.Debounce, "Minimum time between attendance records")
	runCmd.Flags().IntVarP(&runOpts.EveryNth, "every-nth", "n", d.Stream.EveryNth, "Process every Nth frame")
	runCmd.Flags().StringVar(&runOpts.Mode, "mode", d.Attendance.Mode, "Attendance mode: debounced or every-match")
	runCmd.Flags().StringVar(&runOpts.SnapshotDir, "snapshots", "", "Save an annotated frame here for every recorded match")
	runCmd.Flags().BoolVarP(&runOpts.Watch, "watch", "w", false, "Reload the gallery when the enrollment directory changes")
	runCmd.Flags().BoolVar(&runOpts.PixelateUnknown, "pixelate-unknown", false, "Pixelate unmatched faces in snapshots")
	runCmd.Flags().DurationVar(&runOpts.Duration, "duration", 0, "Stop after this long (0 runs until the source ends)")
	runCmd.Flags().BoolVarP(&runOpts.Quiet, "quiet", "q", false, "Do not print per-frame status lines")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies the flags the user set onto cfg and re-validates it.
func applyRunFlags(cfg *config.Config, opts Options, changed func(string) bool) error {
	if changed("source") {
		cfg.Stream.Source = opts.Source
	}
	if changed("threshold") {
		cfg.Thresholds.Distance = opts.Threshold
	}
	if changed("debounce") {
		cfg.Stream.Debounce = opts.Debounce
	}
	if changed("every-nth") {
		cfg.Stream.EveryNth = opts.EveryNth
	}
	if changed("mode") {
		cfg.Attendance.Mode = opts.Mode
	}
	if changed("snapshots") {
		cfg.Stream.SnapshotDir = opts.SnapshotDir
	}
	if changed("watch") {
		cfg.Enrollment.Watch = opts.Watch
	}
	if opts.Duration < 0 {
		return fmt.Errorf("--duration must be >= 0, got %s", opts.Duration)
	}
	return cfg.Validate()
}

func runStream(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) error {
	session := uuid.New()
	logger = logger.With("session", session.String())

	// 1. Gallery
	db, err := openStore(ctx, cfg, cfg.Enrollment.Source == "postgres")
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer closeStore(db)

	var src gallery.Source = gallery.DirSource{Dir: cfg.Enrollment.Dir}
	if cfg.Enrollment.Source == "postgres" {
		src = db
	}
	g, err := gallery.Load(ctx, src, galleryOptions(cfg))
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "📇 Loaded %d identities (%s index)\n", g.Len(), cfg.Index.Kind)

	// 2. Engine
	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	engine, err := worker.Open(ctx, cfg.Engine, cfg.Enrollment.Dim)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, worker.Logs(err, nil))
		return err
	}
	defer engine.Close()

	locator := locate.New(engine, locate.WithDetectWidth(cfg.Engine.DetectWidth))
	matcher := match.New(g, cfg.Thresholds.Distance)
	proc := stream.NewProcessor(locator, matcher, cfg.Stream.Debounce)

	// 3. Frames and sinks
	spec := capture.Spec(cfg.Stream.Source)
	frames, err := capture.New(spec)
	if err != nil {
		utils.ShowError("Invalid frame source", err, nil)
		return err
	}

	sinks, err := buildSinks(ctx, cfg, opts, session, db, spec, logger)
	if err != nil {
		utils.ShowError("Failed to set up outputs", err, nil)
		return err
	}
	defer sinks.close()

	runner := stream.NewRunner(frames, proc,
		stream.WithDisplay(sinks.display),
		stream.WithAttendance(sinks.attendance),
		stream.WithObserver(sink.MatchLog{Logger: logger}),
		stream.WithMode(stream.Mode(cfg.Attendance.Mode)),
		stream.WithEveryNth(cfg.Stream.EveryNth),
		stream.WithLogger(logger),
	)
	if opts.Duration > 0 {
		t := time.AfterFunc(opts.Duration, runner.Stop)
		defer t.Stop()
	}

	// 4. Gallery hot reload
	watchCtx, stopWatch := context.WithCancel(ctx)
	var bg errgroup.Group
	if cfg.Enrollment.Watch && cfg.Enrollment.Source == "dir" {
		bg.Go(func() error {
			reload := func(ctx context.Context) error {
				next, err := gallery.Load(ctx, src, galleryOptions(cfg))
				if err != nil {
					return err
				}
				matcher.Swap(next)
				logger.Debug("matcher swapped", "identities", next.Len())
				return nil
			}
			return gallery.Watch(watchCtx, cfg.Enrollment.Dir, gallery.DefaultSettle, logger, reload)
		})
	}

	fmt.Fprintf(os.Stderr, "🎥 Watching %s (session %s)\n", spec, session)
	err = runner.Run(ctx)
	stopWatch()
	if werr := bg.Wait(); werr != nil {
		logger.Error("gallery watcher stopped", "error", werr)
	}

	sinks.finish()
	printSummary(os.Stderr, runner.Stats())

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "🛑 Interrupted")
		return nil
	}
	if err != nil {
		utils.ShowError("Stream stopped", err, streamLogs(err, frames, engine))
		return err
	}
	return nil
}

// streamLogs finds the subprocess output most likely to explain err.
func streamLogs(err error, frames capture.Source, engine locate.Engine) *utils.SafeCommand {
	if errors.Is(err, capture.ErrFrameUnavailable) {
		if fs, ok := frames.(*capture.FFmpegSource); ok {
			return fs.Cmd()
		}
		return nil
	}
	return worker.Logs(err, engine)
}

type runSinks struct {
	display    stream.Display
	attendance stream.Attendance
	progress   *sink.Progress
	mqtt       *sink.MQTTPublisher
}

func buildSinks(ctx context.Context, cfg *config.Config, opts Options, session uuid.UUID, db *store.Store, spec capture.Spec, logger *slog.Logger) (*runSinks, error) {
	s := &runSinks{}

	var displays sink.MultiDisplay
	if spec.IsFile() {
		_, arg := spec.Kind()
		total := utils.GetTotalFrames(arg)
		if total <= 0 {
			total = -1
		}
		s.progress = sink.NewProgress(os.Stderr, total, cfg.Stream.EveryNth)
		displays = append(displays, s.progress)
	} else if !opts.Quiet {
		displays = append(displays, sink.NewStatusPrinter(os.Stdout))
	}
	if cfg.Stream.SnapshotDir != "" {
		ov := overlay.DefaultOptions
		ov.PixelateUnknown = opts.PixelateUnknown
		snaps, err := sink.NewSnapshots(cfg.Stream.SnapshotDir, ov, logger)
		if err != nil {
			return nil, err
		}
		displays = append(displays, snaps)
	}
	s.display = displays

	attendance := sink.MultiAttendance{sink.LogAttendance{Logger: logger}}
	if db != nil {
		attendance = append(attendance, db.Attendance(session))
	}
	if cfg.Attendance.MQTT.Broker != "" {
		pub := sink.NewMQTTPublisher(cfg.Attendance.MQTT, session, logger)
		if err := pub.Connect(ctx); err != nil {
			return nil, err
		}
		s.mqtt = pub
		attendance = append(attendance, pub)
	}
	s.attendance = attendance
	return s, nil
}

func (s *runSinks) finish() {
	if s.progress != nil {
		s.progress.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func (s *runSinks) close() {
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
}

func printSummary(w io.Writer, st stream.Stats) {
	fmt.Fprintf(w, "📊 %d frames read, %d processed, %d with a face, %d matched, %d recorded",
		st.Frames, st.Processed, st.WithFace, st.Matched, st.Recorded)
	if st.RecordErrs > 0 {
		fmt.Fprintf(w, ", %d failed", st.RecordErrs)
	}
	fmt.Fprintln(w)
}
