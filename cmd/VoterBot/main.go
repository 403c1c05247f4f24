// Command VoterBot builds the anonymized NZES 2023 respondent dataset and
// publishes one respondent profile per invocation. It is meant to be run from
// cron or a CI schedule; every invocation is a single cycle.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/VoterBot/internal/dataset"
	"github.com/BTreeMap/VoterBot/internal/features"
	"github.com/BTreeMap/VoterBot/internal/messaging"
	"github.com/BTreeMap/VoterBot/internal/state"
	"github.com/BTreeMap/VoterBot/internal/util"
)

// DefaultLabelsPath is where build-dataset writes the labels document.
const DefaultLabelsPath = "data/processed/labels.json"

func main() {
	envErr := godotenv.Load()

	initializeLogger(os.Getenv("VOTERBOT_LOG_LEVEL"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadEnvironmentConfig()).ExecuteContext(ctx); err != nil {
		slog.Error("VoterBot failed", "error", err)
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// Config holds settings read from the environment. Command line flags use
// these values as their defaults.
type Config struct {
	RawPath       string
	ProcessedPath string
	LabelsPath    string
	StatePath     string
	MinCell       int

	Channel     string
	Handle      string
	AppPassword string
	BskyHost    string
	DryRun      bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioTo         string

	HistoryDSN  string
	MetricsFile string
	LockDir     string
}

// parseLogLevel maps debug/info/warn/error to a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initializeLogger installs a text logger on stderr; stdout carries post text.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig reads configuration from environment variables.
func loadEnvironmentConfig() Config {
	config := Config{
		RawPath:       os.Getenv("VOTERBOT_RAW"),
		ProcessedPath: util.GetenvDefault("VOTERBOT_DATASET", dataset.DefaultPath),
		LabelsPath:    util.GetenvDefault("VOTERBOT_LABELS", DefaultLabelsPath),
		StatePath:     util.GetenvDefault("VOTERBOT_STATE", state.DefaultPath),
		MinCell:       util.ParseIntEnv("VOTERBOT_MIN_CELL", features.DefaultMinCell),

		Channel:     util.GetenvDefault("VOTERBOT_CHANNEL", messaging.ChannelBluesky),
		Handle:      os.Getenv("BSKY_HANDLE"),
		AppPassword: os.Getenv("BSKY_APP_PASSWORD"),
		BskyHost:    os.Getenv("BSKY_HOST"),
		DryRun:      util.ParseBoolEnv("VOTERBOT_DRY_RUN", false),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioTo:         os.Getenv("TWILIO_TO_NUMBER"),

		HistoryDSN:  os.Getenv("VOTERBOT_HISTORY_DSN"),
		MetricsFile: os.Getenv("VOTERBOT_METRICS_FILE"),
		LockDir:     os.Getenv("VOTERBOT_LOCK_DIR"),
	}

	slog.Debug("environment variables loaded",
		"VOTERBOT_DATASET", config.ProcessedPath,
		"VOTERBOT_STATE", config.StatePath,
		"VOTERBOT_CHANNEL", config.Channel,
		"VOTERBOT_MIN_CELL", config.MinCell,
		"BSKY_HANDLE_SET", config.Handle != "",
		"BSKY_APP_PASSWORD_SET", config.AppPassword != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"VOTERBOT_HISTORY_DSN_SET", config.HistoryDSN != "",
		"VOTERBOT_METRICS_FILE", config.MetricsFile)

	return config
}
