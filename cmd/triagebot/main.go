package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/opencourse/triagebot/internal/cla"
	"github.com/opencourse/triagebot/internal/config"
	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/jira"
	"github.com/opencourse/triagebot/internal/reconcile"
	"github.com/opencourse/triagebot/internal/registry"
	"github.com/opencourse/triagebot/internal/rescan"
	"github.com/opencourse/triagebot/internal/server"
	"github.com/opencourse/triagebot/internal/worker"
)

var version = "dev"

const defaultConfigPath = "triagebot.yaml"

func usage() {
	fmt.Fprintf(os.Stderr, `triagebot keeps tracker tickets in sync with pull requests

Usage:
  triagebot serve [flags]                   Start the webhook server and workers
  triagebot dry-run --repo R --pr N [flags] Print the actions one reconciliation would take

Flags:
  --config   Path to the YAML config (default: %s)
  --repo     Repository as "owner/name" (dry-run only)
  --pr       Pull request number (dry-run only)
`, defaultConfigPath)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch subcmd {
	case "serve":
		err = runServe(rest)
	case "dry-run":
		err = runDryRun(rest)
	case "--version", "version":
		fmt.Println("triagebot " + version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "triagebot %s: %v\n", subcmd, err)
		os.Exit(1)
	}
}

// deps holds the wired clients and engine shared by both subcommands.
type deps struct {
	cfg     *config.Config
	host    *github.Client
	tracker *jira.Client
	current *reconcile.CurrentComputer
	desired *reconcile.DesiredComputer
	logger  *slog.Logger
}

func buildDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	var ghOpts []github.Option
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}
	if cfg.GitHub.App.Enabled() {
		ghOpts = append(ghOpts, github.WithAppAuth(github.AppCredentials{
			ClientID:       cfg.GitHub.App.ClientID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKeyPath: cfg.GitHub.App.PrivateKeyPath,
		}))
	}
	host, err := github.New(cfg.GitHub.Token, ghOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating github client: %w", err)
	}

	extraFields := append([]string{
		reconcile.FieldLinesAdded,
		reconcile.FieldLinesDeleted,
		reconcile.FieldPlatformArea,
	}, cfg.Jira.ExtraFields...)
	tracker := jira.New(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.Token,
		jira.WithExtraFields(extraFields...))

	var source registry.Source
	if cfg.People.Dir != "" {
		source = registry.DirSource{Dir: cfg.People.Dir}
	} else {
		source = registry.HTTPSource{BaseURL: cfg.People.URL}
	}
	people := registry.New(source, registry.WithTTL(cfg.People.CacheTTL))

	agreements := cla.New(people, host, cfg.Bot.CLAStatusContext, logger)
	epics := &reconcile.BlendedEpicFinder{
		Tracker: tracker,
		Project: cfg.Bot.BlendedProject,
		Logger:  logger,
	}

	return &deps{
		cfg:     cfg,
		host:    host,
		tracker: tracker,
		current: reconcile.NewCurrentComputer(host, tracker),
		desired: reconcile.NewDesiredComputer(people, agreements, epics,
			cfg.Bot.DefaultProject, cfg.Bot.BlendedProject, logger),
		logger: logger,
	}, nil
}

func runServe(args []string) error {
	configPath := defaultConfigPath
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}

	actions := &reconcile.LiveActions{Host: d.host, Tracker: d.tracker, Logger: logger}
	engine := reconcile.NewEngine(d.current, d.desired, actions, d.tracker.BrowseURL(), logger)

	hub := server.NewHub(logger)
	dispatcher := worker.New(worker.Config{
		MaxWorkers: cfg.Workers.Max,
		Fetcher:    d.host,
		Engine:     engine,
		Logger:     logger,
		OnRunEvent: func(e worker.RunEvent) { hub.BroadcastRunEvent(e) },
	})
	scanner := rescan.New(d.host, dispatcher, logger)

	srv, err := server.New(cfg.Listen, server.Config{
		Secret:      []byte(cfg.GitHub.WebhookSecret),
		Queue:       dispatcher,
		Runs:        dispatcher,
		Rescanner:   scanner,
		Hub:         hub,
		BaseContext: ctx,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	logger.Info("triagebot listening", "addr", srv.Addr(), "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutting down, waiting for in-flight runs")
		srv.Close()
		dispatcher.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

func runDryRun(args []string) error {
	configPath := defaultConfigPath
	repo := ""
	number := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--repo":
			if i+1 < len(args) {
				repo = args[i+1]
				i++
			}
		case "--pr":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --pr value %q", args[i+1])
				}
				number = n
				i++
			}
		}
	}
	if repo == "" || number == 0 {
		return fmt.Errorf("dry-run requires --repo and --pr")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	actions := &reconcile.DryRunActions{}
	engine := reconcile.NewEngine(d.current, d.desired, actions, d.tracker.BrowseURL(), logger)

	pr, err := d.host.GetPullRequest(ctx, repo, number)
	if err != nil {
		return fmt.Errorf("fetching pull request: %w", err)
	}
	ticketID, changed, err := engine.Reconcile(ctx, reconcile.SnapshotFromPR(pr))
	if err != nil {
		return err
	}

	out := map[string]any{
		"repo":    repo,
		"pr":      number,
		"ticket":  ticketID,
		"changed": changed,
		"actions": actions.Records,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
