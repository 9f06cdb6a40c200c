package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"hintnav-mcp-server/internal/browser"
	"hintnav-mcp-server/internal/collector"
	"hintnav-mcp-server/internal/config"
	"hintnav-mcp-server/internal/facts"
	"hintnav-mcp-server/internal/hint"
	mcpserver "hintnav-mcp-server/internal/mcp"
	"hintnav-mcp-server/internal/recorder"
	"hintnav-mcp-server/internal/settings"
)

type serveCmd struct {
	root    *rootFlags
	ssePort int
}

func getCmdServe(c *serveCmd) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the hint tools over MCP",
		Long: `Serve the hint tools over MCP on stdio, or over SSE when a port is configured.

In stdio mode logs go to server.log_file so they stay off the protocol stream.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}
	cmd.Flags().IntVar(&c.ssePort, "sse-port", 0, "serve SSE on this port instead of stdio (overrides config)")
	return cmd
}

func loadConfig(flags *rootFlags) (config.Config, string, error) {
	return config.LoadWithWorkspace(flags.configPath, config.WorkspaceOptions{
		Disable:     flags.noWorkspace,
		ExplicitDir: flags.workspaceDir,
	})
}

func (c *serveCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, wsDir, err := loadConfig(c.root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.ssePort != 0 {
		cfg.MCP.SSEPort = c.ssePort
	}

	log, closeLog := newLogger(cfg, cmd.ErrOrStderr())
	defer closeLog()
	if wsDir != "" {
		log.WithField("workspace", wsDir).Info("using workspace config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, afero.NewOsFs(), log)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Browser.AutoStart {
		if err := a.sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		log.Info("browser auto-start disabled; use launch-browser or attach-session")
	}

	if cfg.MCP.SSEPort > 0 {
		log.WithField("port", cfg.MCP.SSEPort).Info("starting hintnav MCP SSE server")
		err = a.server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Info("starting hintnav MCP stdio server")
		err = a.server.Start(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

// newLogger builds the process logger. Stdio mode writes to the log file, or nowhere
// when it cannot be opened.
func newLogger(cfg config.Config, stderr io.Writer) (*logrus.Logger, func()) {
	log := logrus.New()
	log.SetLevel(cfg.Server.Level())
	log.SetOutput(stderr)
	if cfg.MCP.SSEPort != 0 || cfg.Server.LogFile == "" {
		return log, func() {}
	}
	f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		return log, func() {}
	}
	log.SetOutput(f)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log, func() { _ = f.Close() }
}

// app is the wired server: sessions with hint options, the facts journal, the
// settings store and the optional trace recorder.
type app struct {
	sessions *browser.SessionManager
	engine   *facts.Engine
	journal  *facts.Journal
	store    *settings.Store
	traces   *recorder.Recorder
	server   *mcpserver.Server
}

func newApp(cfg config.Config, fs afero.Fs, log *logrus.Logger) (*app, error) {
	seed := settings.Default()
	if cfg.Hints.Alphabet != "" {
		seed.Alphabet = cfg.Hints.Alphabet
	}
	store, err := settings.OpenWith(fs, cfg.Settings.Path, seed)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	background, err := store.Router()
	if err != nil {
		return nil, fmt.Errorf("settings router: %w", err)
	}

	engine, err := facts.NewEngine(cfg.Facts, log)
	if err != nil {
		return nil, fmt.Errorf("facts engine: %w", err)
	}
	journal := facts.NewJournal(engine, log)

	var traces *recorder.Recorder
	if cfg.Recorder.Enable {
		traces, err = recorder.NewRecorder(fs, cfg.Recorder.Dir)
		if err != nil {
			return nil, fmt.Errorf("trace recorder: %w", err)
		}
	}

	sessions := browser.NewSessionManager(cfg.Browser, log)
	sessions.SetHintOptions(browser.HintOptions{
		Alphabet:   func() string { return store.Get().Alphabet },
		Agent:      cfg.Hints.AgentOptions(log),
		Collector:  collector.Options{Timeout: cfg.Hints.Timeout()},
		Background: background,
		Observers: func(sessionID string) []hint.Observer {
			observers := []hint.Observer{journal.Session()}
			if traces != nil {
				observers = append(observers, traces.Observer(sessionID))
			}
			return observers
		},
		OnTimeout: func(sessionID string, requestID uint64) {
			journal.Timeout(requestID)
			if traces != nil {
				traces.Observer(sessionID).Timeout(requestID)
			}
		},
		Logger: log,
	})

	server, err := mcpserver.NewServer(cfg, sessions, engine, store, log)
	if err != nil {
		return nil, fmt.Errorf("mcp server: %w", err)
	}
	return &app{
		sessions: sessions,
		engine:   engine,
		journal:  journal,
		store:    store,
		traces:   traces,
		server:   server,
	}, nil
}

func (a *app) close() {
	_ = a.sessions.Shutdown(context.Background())
	if a.traces != nil {
		_ = a.traces.Close()
	}
}
