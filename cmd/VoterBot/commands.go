package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/VoterBot/internal/bluesky"
	"github.com/BTreeMap/VoterBot/internal/dataset"
	"github.com/BTreeMap/VoterBot/internal/features"
	"github.com/BTreeMap/VoterBot/internal/lockfile"
	"github.com/BTreeMap/VoterBot/internal/messaging"
	"github.com/BTreeMap/VoterBot/internal/metrics"
	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/scheduler"
	"github.com/BTreeMap/VoterBot/internal/state"
	"github.com/BTreeMap/VoterBot/internal/store"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	labelColor = color.New(color.FgCyan)
)

func newRootCmd(cfg Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "VoterBot",
		Short: "Publish anonymized NZES 2023 respondent profiles",
		Long: `VoterBot turns the New Zealand Election Study 2023 release into a
privacy-filtered dataset of respondent profiles and publishes one profile
per invocation to Bluesky or WhatsApp, never repeating a respondent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newBuildDatasetCmd(cfg))
	root.AddCommand(newPostOnceCmd(cfg))
	root.AddCommand(newDryRunCmd(cfg))
	root.AddCommand(newStatusCmd(cfg))
	root.AddCommand(newResetQueueCmd(cfg))
	return root
}

func newBuildDatasetCmd(cfg Config) *cobra.Command {
	var raw, processed, labels string
	var minCell int

	cmd := &cobra.Command{
		Use:   "build-dataset",
		Short: "Build the processed dataset from the raw .dta release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawPath, err := features.ResolveRawPath(raw)
			if err != nil {
				return err
			}
			f, lbls, err := features.Ingest(rawPath, labels)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", rawPath, err)
			}
			records, err := features.Build(f, lbls, features.Config{MinCell: minCell})
			if err != nil {
				return fmt.Errorf("failed to build features: %w", err)
			}
			if err := dataset.Save(cmd.Context(), processed, records); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d records)\n", processed, len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&raw, "raw", cfg.RawPath, "path to the .dta file (overrides $VOTERBOT_RAW)")
	cmd.Flags().StringVar(&processed, "processed", cfg.ProcessedPath, "output dataset: .parquet path or SQL DSN (overrides $VOTERBOT_DATASET)")
	cmd.Flags().StringVar(&labels, "labels", cfg.LabelsPath, "output labels JSON path (overrides $VOTERBOT_LABELS)")
	cmd.Flags().IntVar(&minCell, "min-cell", cfg.MinCell, "minimum cell size before a value is replaced by \"Other\"")
	return cmd
}

// postOptions holds the inputs of one posting cycle.
type postOptions struct {
	dataset     string
	state       string
	handle      string
	appPassword string
	dryRun      bool
	channel     string
	bskyHost    string
	historyDSN  string
	metricsFile string
	lockDir     string

	twilioSID   string
	twilioToken string
	twilioFrom  string
	twilioTo    string
}

func postOptionsFromConfig(cfg Config) postOptions {
	return postOptions{
		dataset:     cfg.ProcessedPath,
		state:       cfg.StatePath,
		handle:      cfg.Handle,
		appPassword: cfg.AppPassword,
		dryRun:      cfg.DryRun,
		channel:     cfg.Channel,
		bskyHost:    cfg.BskyHost,
		historyDSN:  cfg.HistoryDSN,
		metricsFile: cfg.MetricsFile,
		lockDir:     cfg.LockDir,
		twilioSID:   cfg.TwilioAccountSID,
		twilioToken: cfg.TwilioAuthToken,
		twilioFrom:  cfg.TwilioFrom,
		twilioTo:    cfg.TwilioTo,
	}
}

func newPostOnceCmd(cfg Config) *cobra.Command {
	opts := postOptionsFromConfig(cfg)

	cmd := &cobra.Command{
		Use:   "post-once",
		Short: "Publish the next eligible profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dataset, "dataset", opts.dataset, "processed dataset: .parquet path or SQL DSN (overrides $VOTERBOT_DATASET)")
	f.StringVar(&opts.state, "state", opts.state, "state location: file path or s3://bucket/key (overrides $VOTERBOT_STATE)")
	f.StringVar(&opts.handle, "handle", opts.handle, "Bluesky handle (overrides $BSKY_HANDLE)")
	f.StringVar(&opts.appPassword, "app-password", opts.appPassword, "Bluesky app password (overrides $BSKY_APP_PASSWORD)")
	f.BoolVar(&opts.dryRun, "dry-run", opts.dryRun, "print the profile without publishing or saving state")
	f.StringVar(&opts.channel, "channel", opts.channel, "publish channel: bluesky or twilio (overrides $VOTERBOT_CHANNEL)")
	f.StringVar(&opts.historyDSN, "history-dsn", opts.historyDSN, "optional SQL DSN for the post receipt log (overrides $VOTERBOT_HISTORY_DSN)")
	f.StringVar(&opts.metricsFile, "metrics-file", opts.metricsFile, "optional Prometheus textfile output path (overrides $VOTERBOT_METRICS_FILE)")
	f.StringVar(&opts.lockDir, "lock-dir", opts.lockDir, "lock directory; defaults to the state file's directory (overrides $VOTERBOT_LOCK_DIR)")
	return cmd
}

func newDryRunCmd(cfg Config) *cobra.Command {
	opts := postOptionsFromConfig(cfg)

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Print the next profile without publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dryRun = true
			opts.metricsFile = ""
			return runPost(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.dataset, "dataset", opts.dataset, "processed dataset: .parquet path or SQL DSN")
	cmd.Flags().StringVar(&opts.state, "state", opts.state, "state location: file path or s3://bucket/key")
	return cmd
}

// lockDirFor returns the directory holding the run lock for a state location.
func lockDirFor(explicit, stateLocation string) string {
	if explicit != "" {
		return explicit
	}
	if _, _, ok := state.ParseS3URL(stateLocation); ok || stateLocation == "" {
		return filepath.Dir(state.DefaultPath)
	}
	return filepath.Dir(stateLocation)
}

// newPublisher builds the publisher and credentials for a channel.
var newPublisher = func(opts postOptions) (messaging.Publisher, models.Credentials, error) {
	switch opts.channel {
	case "", messaging.ChannelBluesky:
		var bskyOpts []bluesky.Option
		if opts.bskyHost != "" {
			bskyOpts = append(bskyOpts, bluesky.WithHost(opts.bskyHost))
		}
		svc := messaging.NewBlueskyService(bluesky.NewClient(bskyOpts...))
		return svc, models.Credentials{Handle: opts.handle, Secret: opts.appPassword}, nil
	case messaging.ChannelTwilio:
		svc, err := messaging.NewTwilioService(messaging.NewTwilioSenderFactory(opts.twilioFrom), opts.twilioTo)
		if err != nil {
			return nil, models.Credentials{}, fmt.Errorf("invalid WhatsApp recipient: %w", err)
		}
		return svc, models.Credentials{Handle: opts.twilioSID, Secret: opts.twilioToken}, nil
	default:
		return nil, models.Credentials{}, fmt.Errorf("%w: %q", messaging.ErrUnknownChannel, opts.channel)
	}
}

// runPost runs one scheduler cycle. Post text goes to out, status lines to errOut.
func runPost(ctx context.Context, out, errOut io.Writer, opts postOptions) error {
	runID := uuid.NewString()
	logger := slog.With("run_id", runID, "dry_run", opts.dryRun)
	logger.Info("runPost: starting cycle", "dataset", opts.dataset, "state", opts.state, "channel", opts.channel)

	ds, err := dataset.Load(ctx, opts.dataset)
	if err != nil {
		return err
	}
	backend, err := state.Open(ctx, opts.state)
	if err != nil {
		return err
	}

	schedOpts := []scheduler.Option{}
	if !opts.dryRun {
		lock, err := lockfile.AcquireLock(lockDirFor(opts.lockDir, opts.state), "post-once "+runID)
		if err != nil {
			return err
		}
		defer lock.Release()

		pub, creds, err := newPublisher(opts)
		if err != nil {
			return err
		}
		schedOpts = append(schedOpts,
			scheduler.WithPublisher(pub),
			scheduler.WithCredentials(creds),
			scheduler.WithStateBackend(backend))
	}

	st, err := backend.Load(ctx)
	if err != nil {
		return err
	}
	persisted := st.Clone()

	outcome, runErr := scheduler.New(schedOpts...).RunCycle(ctx, ds, st)

	if opts.metricsFile != "" && !opts.dryRun {
		m := metrics.New()
		if err := m.Restore(opts.metricsFile); err != nil {
			logger.Warn("runPost: previous metrics unreadable, counters restart at zero", "error", err)
		}
		observed := persisted
		if runErr == nil {
			observed = st
		}
		m.ObserveCycle(outcome, observed, runErr)
		if err := m.WriteTextfile(opts.metricsFile); err != nil {
			logger.Warn("runPost: failed to write metrics", "error", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, scheduler.ErrExhaustedCandidates) {
			warnColor.Fprintln(errOut, "No eligible respondents remain; nothing was posted.")
		}
		return runErr
	}

	if !outcome.DryRun && opts.historyDSN != "" {
		if err := recordReceipt(ctx, opts.historyDSN, outcome); err != nil {
			logger.Warn("runPost: failed to record post receipt", "error", err)
		}
	}

	fmt.Fprintln(out, outcome.Text)
	if outcome.DryRun {
		warnColor.Fprintf(errOut, "Dry run: respondent %s, state not saved\n", outcome.Record.RespondentID)
	} else {
		okColor.Fprintf(errOut, "Posted respondent %s to %s: %s\n", outcome.Record.RespondentID, outcome.Channel, outcome.Ref)
	}
	logger.Info("runPost: cycle complete", "respondent_id", outcome.Record.RespondentID, "ref", outcome.Ref)
	return nil
}

func recordReceipt(ctx context.Context, dsn string, outcome scheduler.Outcome) error {
	s, err := store.Open(dsn)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.AddReceipt(ctx, models.PostReceipt{
		RespondentID: outcome.Record.RespondentID,
		URI:          outcome.Ref,
		Text:         outcome.Text,
		Channel:      outcome.Channel,
		PostedAt:     outcome.PostedAt,
	})
}

func newStatusCmd(cfg Config) *cobra.Command {
	stateLocation := cfg.StatePath
	historyDSN := cfg.HistoryDSN

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduling progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := state.Open(ctx, stateLocation)
			if err != nil {
				return err
			}
			st, err := backend.Load(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			line := func(label, format string, a ...any) {
				labelColor.Fprintf(w, "%-11s", label)
				fmt.Fprintf(w, format+"\n", a...)
			}
			line("State:", "%s", backend.Location())
			line("Used:", "%d respondents", len(st.UsedIDs))
			if len(st.Queue) == 0 {
				line("Queue:", "not generated")
			} else {
				line("Queue:", "%d/%d visited, %d remaining", st.QueueIndex, len(st.Queue), st.Remaining())
			}
			line("RNG seed:", "%d", st.RNGSeed)
			if st.LastPost != nil {
				line("Last post:", "%s %s", st.LastPost.Timestamp, st.LastPost.URI)
			} else {
				line("Last post:", "none")
			}
			if historyDSN != "" {
				receipts, err := loadReceipts(ctx, historyDSN)
				if err != nil {
					return err
				}
				line("Receipts:", "%d", len(receipts))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateLocation, "state", stateLocation, "state location: file path or s3://bucket/key")
	cmd.Flags().StringVar(&historyDSN, "history-dsn", historyDSN, "optional SQL DSN of the post receipt log")
	return cmd
}

func loadReceipts(ctx context.Context, dsn string) ([]models.PostReceipt, error) {
	s, err := store.Open(dsn)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.GetReceipts(ctx)
}

func newResetQueueCmd(cfg Config) *cobra.Command {
	stateLocation := cfg.StatePath
	lockDir := cfg.LockDir
	var seed int64

	cmd := &cobra.Command{
		Use:   "reset-queue",
		Short: "Discard the shuffled queue so the next run regenerates it",
		Long: `reset-queue clears the queue and its cursor. Published respondents stay
used and are never posted again. With --seed the next queue is shuffled
with a new seed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := state.Open(ctx, stateLocation)
			if err != nil {
				return err
			}
			lock, err := lockfile.AcquireLock(lockDirFor(lockDir, stateLocation), "reset-queue")
			if err != nil {
				return err
			}
			defer lock.Release()

			st, err := backend.Load(ctx)
			if err != nil {
				return err
			}
			st.Queue = []string{}
			st.QueueIndex = 0
			if cmd.Flags().Changed("seed") {
				st.RNGSeed = seed
			}
			if err := backend.Save(ctx, st); err != nil {
				return err
			}
			slog.Info("reset-queue: queue cleared", "state", backend.Location(), "rng_seed", st.RNGSeed, "used", len(st.UsedIDs))
			okColor.Fprintf(cmd.OutOrStdout(), "Queue reset (seed %d, %d respondents already used)\n", st.RNGSeed, len(st.UsedIDs))
			return nil
		},
	}
	cmd.Flags().StringVar(&stateLocation, "state", stateLocation, "state location: file path or s3://bucket/key")
	cmd.Flags().StringVar(&lockDir, "lock-dir", lockDir, "lock directory; defaults to the state file's directory")
	cmd.Flags().Int64Var(&seed, "seed", models.DefaultRNGSeed, "new shuffle seed")
	return cmd
}
