package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/controller/metrics"
	"github.com/dbug-project/dbug/controller/repl"
	"github.com/dbug-project/dbug/controller/store"
	"github.com/dbug-project/dbug/controller/tracing"
	"github.com/dbug-project/dbug/internal/config"
	"github.com/dbug-project/dbug/internal/dbugerr"
	"github.com/dbug-project/dbug/internal/logging"
	"github.com/dbug-project/dbug/ipc"
	"github.com/dbug-project/dbug/ipc/eventbus"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <path>",
		Short: "Build and attach a debug session to a Go project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			err = runSession(args[0], opts)
			if err != nil {
				printError(err)
				os.Exit(exitFor(err))
			}
			return nil
		},
	}
	cmd.Flags().Bool("release", false, "Build with optimizations instead of a debug-friendly build")
	cmd.Flags().Bool("tui", false, "Use a terminal UI front end instead of the line REPL")
	cmd.Flags().Bool("clean", false, "Remove stale session state before starting")
	cmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP endpoint for trace export (stdout tracing if empty)")
	cmd.Flags().String("store", "", "Session store backend: file or sqlite")
	cmd.Flags().String("transport", "", "IPC transport: shm or ws")
	return cmd
}

type runOptions struct {
	release      bool
	tui          bool
	clean        bool
	metricsAddr  string
	otlpEndpoint string
	storeBackend string
	transport    string
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var o runOptions
	o.release, _ = cmd.Flags().GetBool("release")
	o.tui, _ = cmd.Flags().GetBool("tui")
	o.clean, _ = cmd.Flags().GetBool("clean")
	o.metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	o.otlpEndpoint, _ = cmd.Flags().GetString("otlp-endpoint")
	o.storeBackend, _ = cmd.Flags().GetString("store")
	o.transport, _ = cmd.Flags().GetString("transport")
	if o.storeBackend != "" && o.storeBackend != "file" && o.storeBackend != "sqlite" {
		return o, dbugerr.New(dbugerr.InvalidProject, fmt.Sprintf("--store must be file or sqlite, got %q", o.storeBackend))
	}
	if o.transport != "" && o.transport != string(config.TransportShm) && o.transport != string(config.TransportWS) {
		return o, dbugerr.New(dbugerr.InvalidProject, fmt.Sprintf("--transport must be shm or ws, got %q", o.transport))
	}
	return o, nil
}

// runSession wires every ambient and domain-stack component together,
// spawns the built debuggee, attaches a controller session to it, and
// drives the session from a line REPL (or a warning-and-fallback if --tui
// was requested) until the session ends or the process is interrupted.
func runSession(path string, opts runOptions) error {
	cfg, err := config.Load(defaultConfigPath())
	if err != nil {
		return dbugerr.Wrap(dbugerr.LaunchFailure, err, "load configuration")
	}
	cfg = cfg.ApplyEnv()
	if opts.storeBackend != "" {
		cfg.StoreBackend = opts.storeBackend
	}
	if opts.transport != "" {
		cfg.Transport = config.Transport(opts.transport)
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if opts.otlpEndpoint != "" {
		cfg.OTLPEndpoint = opts.otlpEndpoint
	}

	sessionID := logging.NewSessionID()

	log, err := logging.New(logging.Config{MinLevel: logging.Info, Format: textOrJSON(cfg.LogFormat), FilePath: cfg.LogFilePath})
	if err != nil {
		return dbugerr.Wrap(dbugerr.LaunchFailure, err, "start logger")
	}
	defer log.Close()
	sessionLog := log.WithSession(sessionID)

	projectDir, binPath, err := buildTarget(path, opts.release)
	if err != nil {
		return err
	}
	sessionLog.Info(fmt.Sprintf("built %s", binPath))

	sessionStore, _, err := openStore(cfg, projectDir, opts.clean)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	if watcher := watchFileStore(sessionStore, sessionLog); watcher != nil {
		defer watcher.Close()
	}

	var launch *childLaunch
	switch cfg.Transport {
	case config.TransportWS:
		launch, err = setupWSTransport()
	default:
		launch, err = setupShmTransport(cfg.RingSize)
	}
	if err != nil {
		return err
	}
	defer launch.cleanup()

	childCmd := exec.Command(binPath)
	childCmd.Dir = projectDir
	childCmd.Stdout = os.Stdout
	childCmd.Stderr = os.Stderr
	childCmd.Env = append(os.Environ(), "DBUG_ENABLED=1", "DBUG_SESSION="+sessionID)
	childCmd.Env = append(childCmd.Env, launch.env...)
	childCmd.ExtraFiles = launch.extraFiles

	if err := childCmd.Start(); err != nil {
		return dbugerr.Wrap(dbugerr.LaunchFailure, err, "start debuggee process")
	}
	printInfo(fmt.Sprintf("Launched %s (pid %d)", filepath.Base(binPath), childCmd.Process.Pid))

	if err := launch.resolve(10 * time.Second); err != nil {
		childCmd.Process.Kill()
		return err
	}

	var m *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		m = metrics.New(metrics.DefaultConfig())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		go metricsSrv.ListenAndServe()
		printInfo("Metrics available at http://" + cfg.MetricsAddr + "/metrics")
	}

	tp, err := tracing.Init(tracingConfig(cfg))
	if err != nil {
		return dbugerr.Wrap(dbugerr.LaunchFailure, err, "start tracer")
	}

	sess, err := controller.Start(launch.transport, sessionID, projectDir, binPath, childCmd.Process.Pid, func(ev ipc.Event) {
		recordEventMetrics(m, ev)
	}, log)
	if err != nil {
		childCmd.Process.Kill()
		return err
	}

	sessionStore.Save(context.Background(), store.Record{
		ID:          sessionID,
		ProjectPath: projectDir,
		Transport:   string(cfg.Transport),
		StartedAt:   time.Now(),
	})
	if m != nil {
		m.SetActiveSessions(1)
	}

	var pub *eventbus.Publisher
	if cfg.EventBusAddr != "" {
		pub = eventbus.NewPublisher(cfg.EventBusAddr, sessionID)
		sess.OnEvent(func(ev ipc.Event) {
			pub.Publish(context.Background(), ev)
		})
		printInfo("Publishing session events to " + cfg.EventBusAddr)
	}

	if opts.tui {
		printWarning("a terminal UI front end isn't available; falling back to the line REPL")
	}
	front := repl.New(sess, os.Stdin, os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		printWarning("\nShutting down session...")
		front.Stop()
		sess.Stop()
	}()

	front.Start()

	if m != nil {
		m.SetActiveSessions(0)
	}
	if pub != nil {
		pub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tp.Shutdown(ctx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	sessionStore.Save(context.Background(), store.Record{
		ID:          sessionID,
		ProjectPath: projectDir,
		Transport:   string(cfg.Transport),
		EndedAt:     time.Now(),
		LastReason:  "session ended",
	})
	printSuccess("Session ended")
	return nil
}

// defaultConfigPath returns the controller's default YAML config location;
// config.Load tolerates it not existing.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dbug", "config.yaml")
}

func openStore(cfg config.Document, projectDir string, clean bool) (store.Store, string, error) {
	path := cfg.StorePath
	if path == "" {
		path = filepath.Join(projectDir, ".dbug", "sessions."+cfg.StoreBackend)
	}
	if clean {
		os.Remove(path)
	}
	if cfg.StoreBackend == "sqlite" {
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, path, dbugerr.Wrap(dbugerr.LaunchFailure, err, "open sqlite session store")
		}
		return s, path, nil
	}
	s, err := store.NewFileStore(path)
	if err != nil {
		return nil, path, dbugerr.Wrap(dbugerr.LaunchFailure, err, "open file session store")
	}
	return s, path, nil
}

// watchFileStore wires a store.Watcher onto sessionStore when it's a
// *store.FileStore, reloading the on-disk session file if another process
// (or a hand edit) touches it concurrently. Returns nil for the sqlite
// backend, which already handles its own concurrent access.
func watchFileStore(sessionStore store.Store, log *logging.SessionLogger) *store.Watcher {
	fs, ok := sessionStore.(*store.FileStore)
	if !ok {
		return nil
	}
	w, err := store.NewWatcher(fs, func() {
		log.Info("reloaded session store after an external change")
	})
	if err != nil {
		log.Warn("failed to watch session store file: " + err.Error())
		return nil
	}
	return w
}

func tracingConfig(cfg config.Document) tracing.Config {
	tc := tracing.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		tc.ExporterType = "otlp"
		tc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return tc
}

func textOrJSON(format string) logging.Format {
	if format == "json" {
		return logging.JSONFormat
	}
	return logging.TextFormat
}

func recordEventMetrics(m *metrics.Metrics, ev ipc.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case ipc.EventBreakpointHit:
		m.ObserveBreakpointHit(ev.File)
	case ipc.EventAsyncTaskCreated:
		m.IncAsyncTasksSpawned()
	case ipc.EventExpressionResult:
		m.ObserveEvaluation("ok")
	}
}
