package track

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/markertrack/markertrack/internal/api"
	"github.com/markertrack/markertrack/internal/buildinfo"
	"github.com/markertrack/markertrack/internal/calibration"
	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/datastore"
	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/focus"
	"github.com/markertrack/markertrack/internal/framesource"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/marker"
	"github.com/markertrack/markertrack/internal/mqtt"
	"github.com/markertrack/markertrack/internal/notify"
	"github.com/markertrack/markertrack/internal/observability"
	"github.com/markertrack/markertrack/internal/pipeline"
	"github.com/markertrack/markertrack/internal/sightings"
	"github.com/markertrack/markertrack/internal/tracking"
)

// consumerCloseTimeout bounds the drain of each async event consumer on exit
const consumerCloseTimeout = 5 * time.Second

// GetLogger returns the track command logger
func GetLogger() logger.Logger {
	return logger.Global().Module("track")
}

// Command creates the track command, which runs the full pipeline until
// interrupted or until a finite frame source is exhausted.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the marker tracking pipeline",
		Long:  "Feed frames from the configured source through grayscale conversion and marker detection, publishing marker events to the configured outputs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := Run(ctx, settings, build)
			if summary != nil {
				summary.Log(GetLogger())
			}
			return err
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the track command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("source", viper.GetString("source.type"), "Frame source (synthetic, directory)")
	cmd.Flags().String("path", viper.GetString("source.path"), "Image directory for the directory source")
	cmd.Flags().Float64("fps", viper.GetFloat64("source.fps"), "Frames per second emitted by the source")
	cmd.Flags().Int("frames", viper.GetInt("source.frames"), "Stop after this many frames, 0 for unlimited")
	cmd.Flags().String("script", viper.GetString("detection.script"), "Detection script for the scripted engine")
	cmd.Flags().IntSlice("markers", viper.GetIntSlice("markers.registered"), "Marker ids to register")
	cmd.Flags().Bool("api", viper.GetBool("api.enabled"), "Enable the HTTP status API")
	cmd.Flags().String("listen", viper.GetString("api.listen"), "Listen address of the HTTP status API")

	bindings := map[string]string{
		"source":  "source.type",
		"path":    "source.path",
		"fps":     "source.fps",
		"frames":  "source.frames",
		"script":  "detection.script",
		"markers": "markers.registered",
		"api":     "api.enabled",
		"listen":  "api.listen",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}

	return nil
}

// Summary reports what a run did
type Summary struct {
	Pipeline  pipeline.Stats
	Source    framesource.Stats
	Sightings []sightings.Sighting
	Saved     uint64
	Notified  notify.Stats
}

// Log writes the summary at info level
func (s *Summary) Log(log logger.Logger) {
	log.Info("tracking finished",
		logger.String("session_id", s.Pipeline.SessionID),
		logger.Uint64("frames_emitted", s.Source.Emitted),
		logger.Uint64("frames_accepted", s.Pipeline.Accepted),
		logger.Uint64("frames_dropped", s.Pipeline.Dropped),
		logger.Uint64("cycles", s.Pipeline.Cycles),
		logger.Uint64("detection_failures", s.Pipeline.DetectionFailures),
		logger.Int("markers_seen", len(s.Sightings)),
		logger.Uint64("transitions_saved", s.Saved),
		logger.Uint64("notifications_sent", s.Notified.Sent))
}

// Run builds every component from settings, runs the pipeline and its
// consumers under one errgroup, and tears everything down in reverse order.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) (*Summary, error) {
	log := GetLogger()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	errors.AddErrorHook(metrics.ErrorHook())
	defer errors.ClearErrorHooks()

	cal, err := calibration.FromSettings(&settings.Calibration)
	if err != nil {
		return nil, err
	}

	mgr := marker.NewManager()
	var markerOpts []marker.Option
	if settings.Markers.SideLength > 0 {
		markerOpts = append(markerOpts, marker.WithPoseEstimator(marker.PinholeEstimator{SideLength: settings.Markers.SideLength}))
	}
	if _, err := mgr.RegisterMarkers(settings.Markers.Registered, markerOpts...); err != nil {
		return nil, err
	}

	engine, err := detector.New(&settings.Detection)
	if err != nil {
		return nil, errors.New(err).
			Component("track").
			Category(errors.CategoryConfiguration).
			Context("engine", settings.Detection.Engine).
			Build()
	}
	if c, ok := engine.(detector.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	cfg, err := pipeline.ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}

	source, err := framesource.New(&settings.Source)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	tracker := tracking.New(mgr, bus,
		tracking.WithCalibration(cal),
		tracking.WithRecorder(metrics.Pipeline))
	coord := pipeline.New(engine, tracker, cfg, pipeline.WithRecorder(metrics.Pipeline))

	recent := sightings.New(settings.Sightings.TTL, metrics.Datastore)
	recent.Attach(bus)
	defer func() { _ = recent.Close() }()

	camera := focus.NewCameraTracker(focus.RegistryPoses(mgr), mgr.IsRegistered)
	camera.Attach(bus)
	defer func() { _ = camera.Close() }()

	summary := &Summary{}

	var history *datastore.Store
	if settings.Output.SQLite.Enabled {
		history, err = datastore.OpenSQLite(settings.Output.SQLite.Path, metrics.Datastore)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := history.Close(); err != nil {
				log.Warn("failed to close sighting history", logger.Error(err))
			}
		}()

		metrics.System.WatchDisk(filepath.Dir(settings.Output.SQLite.Path))

		recorder := datastore.NewSightingRecorder(history, mgr.IsRegistered)
		recorder.Attach(bus)
		defer func() {
			if err := recorder.Close(consumerCloseTimeout); err != nil {
				log.Warn("sighting recorder did not drain", logger.Error(err))
			}
			summary.Saved, _ = recorder.Saved()
		}()
	}

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), metrics.MQTT)
		if err := client.Connect(ctx); err != nil {
			// publishes fail and are counted until the broker is reachable
			log.Warn("MQTT broker not reachable", logger.Error(err))
		}
		defer client.Disconnect()

		publisher := mqtt.NewPublisher(client, mqtt.PublisherConfigFromSettings(&settings.MQTT), metrics.MQTT)
		publisher.Attach(bus)
		defer func() {
			if err := publisher.Close(consumerCloseTimeout); err != nil {
				log.Warn("MQTT publisher did not drain", logger.Error(err))
			}
		}()
	}

	if settings.Notify.Enabled {
		sender, err := notify.NewShoutrrrSender(settings.Notify.URLs, settings.Notify.Timeout)
		if err != nil {
			return nil, err
		}
		notifier := notify.New(sender, notify.ConfigFromSettings(&settings.Notify), mgr.IsRegistered)
		notifier.Attach(bus)
		defer func() {
			if err := notifier.Close(consumerCloseTimeout); err != nil {
				log.Warn("notifier did not drain", logger.Error(err))
			}
			summary.Notified = notifier.Stats()
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if err := coord.Start(gctx); err != nil {
		return nil, err
	}

	g.Go(func() error {
		err := source.Run(gctx, coord)
		if err != nil || gctx.Err() != nil {
			return err
		}
		log.Info("frame source exhausted, draining pipeline", logger.String("source", source.Name()))
		drain(gctx, coord, cfg.StopTimeout)
		if !settings.API.Enabled {
			cancel()
		}
		return nil
	})

	g.Go(func() error {
		return coord.RunHealthMonitor(gctx, settings.Pipeline.HealthInterval)
	})

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			cancel()
			return nil, errors.Join(err, coord.Stop(0))
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	if settings.API.Enabled {
		opts := []api.ServerOption{
			api.WithPipeline(coord),
			api.WithMarkers(mgr),
			api.WithSightings(recent),
			api.WithFocus(camera),
			api.WithMetrics(metrics),
		}
		if history != nil {
			opts = append(opts, api.WithHistory(history))
		}
		server, err := api.New(api.ConfigFromSettings(&settings.API), opts...)
		if err != nil {
			cancel()
			return nil, errors.Join(err, coord.Stop(0))
		}
		g.Go(func() error { return server.Run(gctx) })
	}

	log.Info("tracking started",
		logger.String("version", build.Version()),
		logger.String("session_id", coord.SessionID()),
		logger.String("source", source.Name()),
		logger.Ints("markers", mgr.IDs()))

	runErr := g.Wait()
	stopErr := coord.Stop(0)

	summary.Pipeline = coord.Stats()
	summary.Source = source.Stats()
	summary.Sightings = recent.List()

	return summary, errors.Join(runErr, stopErr)
}

// drain waits until the pipeline is back at Idle so the last accepted frame
// completes before shutdown
func drain(ctx context.Context, coord *pipeline.Coordinator, timeout time.Duration) {
	if timeout <= 0 {
		timeout = pipeline.DefaultStopTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for coord.Stage() != pipeline.StageIdle {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			GetLogger().Warn("pipeline did not drain", logger.String("stage", coord.Stage().String()))
			return
		case <-ticker.C:
		}
	}
}
