package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/riskscore/pkg/config"
	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/mchmarny/riskscore/pkg/logging"
	"github.com/mchmarny/riskscore/pkg/model"
	"github.com/mchmarny/riskscore/pkg/scoring"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "riskscore"
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"

	flagDebug     = "debug"
	flagConfigDir = "config"
	flagFormat    = "format"
	flagArtifacts = "artifacts"
	flagThreshold = "threshold"
	flagJournal   = "journal"
	flagLogFormat = "log-format"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""
)

// Execute creates and runs the CLI application.
func Execute() {
	initLogging(logging.FormatText, false)

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	*config.Config
	HomeDir string
	Debug   bool
	Format  string
}

func getConfig(cmd *cli.Command) *appConfig {
	return cmd.Root().Metadata[appConfigKey].(*appConfig)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Credit default risk scoring service",
		Metadata:              map[string]any{},
		Flags:                 globalFlags(),
		Commands: []*cli.Command{
			serveCmd(),
			predictCmd(),
			explainCmd(),
			fetchCmd(),
			authCmd(),
			historyCmd(),
			resetCmd(),
		},
		Before: before,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Usage:   "Prints verbose logs (optional, default: false)",
			Sources: cli.EnvVars(config.EnvPrefix + "DEBUG"),
		},
		&cli.StringFlag{
			Name:  flagConfigDir,
			Usage: "Directory holding config.yaml and the stored token (default: ~/.riskscore)",
		},
		&cli.StringFlag{
			Name:  flagFormat,
			Usage: "Output format [json, yaml]",
			Value: formatJSON,
		},
		&cli.StringFlag{
			Name:    flagArtifacts,
			Aliases: []string{"a"},
			Usage:   "Directory with the columns, scaler, model, explainer, and threshold files",
		},
		&cli.FloatFlag{
			Name:  flagThreshold,
			Usage: "Decision threshold overriding the artifact set, within [0, 1]",
		},
		&cli.StringFlag{
			Name:  flagJournal,
			Usage: "Decision journal: SQLite file path or postgres:// DSN (use 'none' to disable)",
		},
		&cli.StringFlag{
			Name:  flagLogFormat,
			Usage: "Log format [text, json, cli]",
		},
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	debug := cmd.Bool(flagDebug)
	initLogging(logging.FormatText, debug)

	if err := config.LoadEnv(); err != nil {
		return ctx, fmt.Errorf("loading env: %w", err)
	}

	dir := cmd.String(flagConfigDir)
	if dir == "" {
		d, _, err := config.GetOrCreateHomeDir(config.HomeDirName)
		if err != nil {
			return ctx, fmt.Errorf("resolving home dir: %w", err)
		}
		dir = d
	}

	c, err := config.ReadOrCreate(dir)
	if err != nil {
		return ctx, fmt.Errorf("reading config: %w", err)
	}
	if err := c.ApplyEnv(); err != nil {
		return ctx, fmt.Errorf("applying env: %w", err)
	}
	applyFlags(cmd, c)

	initLogging(c.LogFormat, debug)
	slog.Debug("config resolved",
		"dir", dir,
		"artifacts", c.Artifacts,
		"address", c.Address,
		"log_format", c.LogFormat)

	cmd.Root().Metadata[appConfigKey] = &appConfig{
		Config:  c,
		HomeDir: dir,
		Debug:   debug,
		Format:  parseFormat(cmd.String(flagFormat)),
	}
	return ctx, nil
}

// applyFlags overrides c with the flags set on the command line.
func applyFlags(cmd *cli.Command, c *config.Config) {
	if cmd.IsSet(flagArtifacts) {
		c.Artifacts = cmd.String(flagArtifacts)
	}
	if cmd.IsSet(flagThreshold) {
		t := cmd.Float(flagThreshold)
		c.Threshold = &t
	}
	if cmd.IsSet(flagJournal) {
		c.Journal = cmd.String(flagJournal)
	}
	if cmd.IsSet(flagLogFormat) {
		c.LogFormat = cmd.String(flagLogFormat)
	}
}

func initLogging(format string, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(logging.NewLogger(format, level, os.Stderr))
}

func parseFormat(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case formatYAML, "yml":
		return formatYAML
	default:
		return formatJSON
	}
}

func encode(w io.Writer, format string, v any) error {
	if w == nil {
		w = os.Stdout
	}
	if format == formatYAML {
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func reader(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

// loadService loads the artifact set and applies the configured threshold.
func loadService(ctx context.Context, c *config.Config) (*scoring.Service, error) {
	a, err := model.Load(ctx, c.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts from %s: %w", c.Artifacts, err)
	}

	if c.Threshold != nil {
		if err := model.ValidateThreshold(*c.Threshold); err != nil {
			return nil, fmt.Errorf("configured threshold: %w", err)
		}
		a.Threshold = *c.Threshold
		a.ThresholdSource = "config"
	}

	svc, err := scoring.NewService(a)
	if err != nil {
		return nil, fmt.Errorf("creating scoring service: %w", err)
	}

	slog.Info("artifacts loaded",
		"dir", c.Artifacts,
		"columns", len(a.Columns),
		"threshold", a.Threshold,
		"threshold_source", a.ThresholdSource)
	return svc, nil
}

const journalDisabled = "none"

// openJournal opens the decision journal, nil when it is disabled.
func openJournal(c *config.Config) (*data.DB, error) {
	dsn := strings.TrimSpace(c.Journal)
	if dsn == "" || strings.EqualFold(dsn, journalDisabled) {
		return nil, nil
	}
	if err := data.Init(dsn); err != nil {
		return nil, fmt.Errorf("initializing journal: %w", err)
	}
	db, err := data.GetDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return db, nil
}
