package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/config"
	"github.com/richard-senior/kicktipp/pkg/kicktipp"
	"github.com/richard-senior/kicktipp/pkg/notify"
	"github.com/richard-senior/kicktipp/pkg/predictor"
	"github.com/richard-senior/kicktipp/pkg/store"
	"github.com/richard-senior/kicktipp/pkg/tipp"
	"github.com/richard-senior/kicktipp/pkg/transport"
	"github.com/richard-senior/kicktipp/pkg/util"
	"github.com/spf13/pflag"
)

const usage = `kicktipp fills the tipp form of a kicktipp.de pool.

Usage:
  kicktipp [run] [flags]     predict and submit a matchday range
  kicktipp discover [flags]  print season id and matchday count
  kicktipp show [flags]      print stored outcomes of a season

Secrets are read from KICKTIPP_USERNAME, KICKTIPP_PASSWORD, ANTHROPIC_API_KEY
and TELEGRAM_BOT_TOKEN when not in the config file.

Flags:
`

type options struct {
	configPath string
	from, to   int
	noSubmit   bool
	oddsOnly   bool
	browser    bool
	proxy      string
	pool       string
	season     string
	matchday   int
	logLevel   string
}

func main() {
	logger.SetShowDateTime(true)
	err := run(os.Args[1:])
	logger.Close()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// splitCommand takes a leading subcommand off args, "run" when there is none
func splitCommand(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "run", args
}

func parseFlags(command string, args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("kicktipp "+command, pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	flagSet.IntVar(&opts.from, "from", 0, "first matchday (default: 1)")
	flagSet.IntVar(&opts.to, "to", 0, "last matchday (default: last of the season)")
	flagSet.BoolVar(&opts.noSubmit, "no-submit", false, "validate and store predictions without submitting")
	flagSet.BoolVar(&opts.oddsOnly, "odds-only", false, "never call the language model, derive tipps from odds")
	flagSet.BoolVar(&opts.browser, "browser", false, "render matchday pages in headless chromium")
	flagSet.StringVar(&opts.proxy, "proxy", "", "HTTP(S) proxy url")
	flagSet.StringVar(&opts.pool, "pool", "", "pool slug, overrides the config file")
	flagSet.StringVar(&opts.season, "season", "", "season label for stored artifacts (default: tippsaisonId)")
	flagSet.IntVar(&opts.matchday, "matchday", 0, "show: print the stored predictions of this matchday")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, flagSet, nil
}

func run(args []string) error {
	command, args := splitCommand(args)
	if command == "help" {
		command, args = "run", []string{"--help"}
	}
	opts, flagSet, err := parseFlags(command, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts, flagSet)
	if err := cfg.Logging.Apply(); err != nil {
		return err
	}
	logger.Info("Starting kicktipp", command)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runMatchdays(ctx, cfg, opts)
	case "discover":
		if err := cfg.Kicktipp.Validate(); err != nil {
			return err
		}
		return discover(ctx, cfg)
	case "show":
		return show(cfg, opts)
	}
	flagSet.Usage()
	return fmt.Errorf("unknown command %q", command)
}

// applyFlags lets the command line win over file and environment
func applyFlags(cfg *config.Config, opts *options, flagSet *pflag.FlagSet) {
	if opts.noSubmit {
		cfg.Run.DryRun = true
	}
	if opts.oddsOnly {
		cfg.Predictor.APIKey = ""
	}
	if flagSet.Changed("browser") {
		cfg.Kicktipp.RenderWithBrowser = opts.browser
	}
	if opts.proxy != "" {
		cfg.HTTP.Proxy = opts.proxy
	}
	if opts.pool != "" {
		cfg.Kicktipp.Pool = opts.pool
	}
	if opts.season != "" {
		cfg.Run.Season = opts.season
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
}

// clampRange fills defaults and keeps the range inside the season
func clampRange(from, to, matchdays int) (int, int) {
	if from < 1 {
		from = 1
	}
	if to < 1 || to > matchdays {
		to = matchdays
	}
	return from, to
}

//////////////////////////////////////////////////////////////////
////// wiring
//////////////////////////////////////////////////////////////////

type app struct {
	cfg       *config.Config
	session   *transport.Session
	renderer  *transport.BrowserRenderer
	client    *kicktipp.Client
	store     *store.Store
	artifacts *store.Artifacts
}

func newApp(cfg *config.Config) (*app, error) {
	session, err := transport.NewSession(transport.SessionConfig{
		Proxy:    cfg.HTTP.Proxy,
		CABundle: cfg.HTTP.CABundle,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, session: session}
	var renderer transport.Fetcher
	if cfg.Kicktipp.RenderWithBrowser {
		a.renderer = transport.NewBrowserRenderer(session, 0)
		renderer = a.renderer
	}
	a.client = kicktipp.NewClient(cfg.Kicktipp, session, renderer)
	return a, nil
}

func (a *app) Close() {
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			logger.Warn("Failed to stop chromium", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close store", err)
		}
	}
}

// login warns and carries on when the logout link is missing, the tipp
// form itself tells whether the session works
func (a *app) login(ctx context.Context) error {
	err := a.client.Login(ctx)
	if errors.Is(err, kicktipp.ErrNotLoggedIn) {
		logger.Warn("Login could not be confirmed, continuing anyway")
		return nil
	}
	return err
}

func (a *app) openStorage() error {
	a.artifacts = store.NewArtifacts(a.cfg.Storage.OutDir)
	if a.cfg.Storage.DBPath == "" {
		return nil
	}
	if dir := filepath.Dir(a.cfg.Storage.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	s, err := store.Open(a.cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	a.store = s
	return nil
}

func (a *app) newPredictor(season string) (tipp.Predictor, error) {
	if !a.cfg.Predictor.Enabled() {
		logger.Warn("No predictor api key, tipps are derived from odds")
		return nil, nil
	}
	httpClient := &http.Client{Timeout: a.cfg.Predictor.Timeout}
	if a.cfg.HTTP.Proxy != "" {
		pu, err := url.Parse(a.cfg.HTTP.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", a.cfg.HTTP.Proxy, err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(pu)}
	}
	p := predictor.New(a.cfg.Predictor, httpClient)
	p.OnReply(func(matchday, attempt int, body string) {
		if err := a.artifacts.SaveRaw(season, matchday, attempt, body); err != nil {
			logger.Warn("Failed to save raw predictor reply", err)
		}
	})
	logger.Info(fmt.Sprintf("Predictor %s, key %s", a.cfg.Predictor.Model, util.MaskSecret(a.cfg.Predictor.APIKey)))
	return p, nil
}

func runMatchdays(ctx context.Context, cfg *config.Config, opts *options) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.login(ctx); err != nil {
		return err
	}
	season, err := a.client.DiscoverSeason(ctx)
	if err != nil {
		return err
	}
	if cfg.Run.Season == "" {
		cfg.Run.Season = season.ID
	}
	if cfg.Run.Season == "" {
		cfg.Run.Season = "unknown"
	}
	from, to := clampRange(opts.from, opts.to, season.Matchdays)

	if err := a.openStorage(); err != nil {
		return err
	}
	pred, err := a.newPredictor(cfg.Run.Season)
	if err != nil {
		return err
	}

	orch := tipp.NewOrchestrator(cfg.Settings(), a.client, pred)
	orch.AddRecorder(a.artifacts)
	if a.store != nil {
		orch.AddRecorder(a.store)
	}
	orch.SetDigest(func(matchday int, doc *tipp.Document) string {
		md := kicktipp.Digest(doc)
		if md != "" {
			if err := a.artifacts.SaveDigest(cfg.Run.Season, matchday, md); err != nil {
				logger.Warn("Failed to save page digest", err)
			}
		}
		return md
	})
	if cfg.Notify.Enabled() {
		n, err := notify.NewTelegram(cfg.Notify)
		if err != nil {
			logger.Warn("Notifications disabled", err)
		} else {
			orch.SetNotifier(n)
		}
	}

	logger.Info(fmt.Sprintf("pool=%s season=%s matchdays=%d..%d submit=%t user=%s",
		cfg.Kicktipp.Pool, cfg.Run.Season, from, to, !cfg.Run.DryRun, util.MaskSecret(cfg.Kicktipp.Username)))
	outcomes, err := orch.Run(ctx, from, to)
	failed := 0
	for _, o := range outcomes {
		if o.Status == tipp.StatusFailed {
			failed++
		}
	}
	logger.Inform(fmt.Sprintf("Processed %d matchdays, %d failed", len(outcomes), failed))
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d matchdays failed", failed, len(outcomes))
	}
	return nil
}

func discover(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.login(ctx); err != nil {
		return err
	}
	season, err := a.client.DiscoverSeason(ctx)
	if err != nil {
		return err
	}
	return printJSON(season)
}

func show(cfg *config.Config, opts *options) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("show needs storage.db_path")
	}
	if cfg.Run.Season == "" {
		return fmt.Errorf("show needs --season")
	}
	s, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.matchday > 0 {
		preds, err := s.Predictions(cfg.Run.Season, opts.matchday)
		if err != nil {
			return err
		}
		return printJSON(preds)
	}
	records, err := s.Outcomes(cfg.Run.Season)
	if err != nil {
		return err
	}
	for _, r := range records {
		o, err := r.Outcome()
		if err != nil {
			logger.Warn(err.Error())
			continue
		}
		fmt.Println(o.String())
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
