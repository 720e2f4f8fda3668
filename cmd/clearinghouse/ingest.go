package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/client"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/summarize"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/redis"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ingestKind describes one of the ingest subcommands.
type ingestKind struct {
	source clearinghouse.Source
	use    string
	short  string
	banner string
}

var (
	ingestMock = ingestKind{
		source: clearinghouse.SourceMock,
		use:    "ingest-mock",
		short:  "Ingest the bundled fixture dataset",
		banner: "Ingestion complete",
	}
	ingestLive = ingestKind{
		source: clearinghouse.SourceLive,
		use:    "ingest-live",
		short:  "Ingest from the live Clearinghouse API",
		banner: "Live ingestion complete",
	}
)

type ingestFlags struct {
	since         string
	caseLimit     int
	dbDriver      string
	dbURL         string
	checkpointKey string
	resume        bool
	archive       bool
	continueOnErr bool
	strict        bool
	fixture       string
	apiToken      string
	baseURL       string
}

func newIngestCmd(a *app, kind ingestKind) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   kind.use,
		Short: kind.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, a, kind, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.since, "since", "", "only ingest cases updated at or after this ISO-8601 time (naive times are UTC)")
	fl.IntVar(&f.caseLimit, "case-limit", 0, "stop after this many cases (0 means no limit)")
	fl.StringVar(&f.dbDriver, "db-driver", "", "database driver (postgres or sqlite3)")
	fl.StringVar(&f.dbURL, "db-url", "", "database connection string or sqlite file path")
	fl.StringVar(&f.checkpointKey, "checkpoint-key", "", "name of the resume cursor")
	fl.BoolVar(&f.resume, "resume-from-checkpoint", kind.source == clearinghouse.SourceLive, "start from the stored checkpoint when it is later than --since")
	fl.BoolVar(&f.archive, "archive-raw-payloads", true, "store raw upstream payloads")
	fl.BoolVar(&f.continueOnErr, "continue-on-error", true, "record case failures and keep going")
	fl.BoolVar(&f.strict, "strict", false, "abort on the first case failure")
	cmd.MarkFlagsMutuallyExclusive("continue-on-error", "strict")
	if kind.source == clearinghouse.SourceMock {
		fl.StringVar(&f.fixture, "fixture", "", "path to the fixture dataset")
	} else {
		fl.StringVar(&f.apiToken, "api-token", "", "Clearinghouse API token")
		fl.StringVar(&f.baseURL, "base-url", "", "Clearinghouse API base URL")
	}
	return cmd
}

// resolveOptions merges config defaults with explicitly set flags.
func resolveOptions(cmd *cobra.Command, cfg *config.Config, kind ingestKind, f *ingestFlags) (ingest.Options, error) {
	since, err := parseSince(f.since)
	if err != nil {
		return ingest.Options{}, err
	}
	opts := ingest.Options{
		Source:             kind.source,
		Since:              since,
		CaseLimit:          f.caseLimit,
		ArchiveRawPayloads: cfg.Ingest.ArchiveRawPayloads,
		ContinueOnError:    cfg.Ingest.ContinueOnError,
	}
	if kind.source == clearinghouse.SourceMock {
		opts.CheckpointKey = cfg.Ingest.MockCheckpointKey
		opts.ResumeFromCheckpoint = false
	} else {
		opts.CheckpointKey = cfg.Ingest.LiveCheckpointKey
		opts.ResumeFromCheckpoint = cfg.Ingest.ResumeFromCheckpoint
	}

	changed := cmd.Flags().Changed
	if changed("checkpoint-key") {
		opts.CheckpointKey = f.checkpointKey
	}
	if changed("resume-from-checkpoint") {
		opts.ResumeFromCheckpoint = f.resume
	}
	if changed("archive-raw-payloads") {
		opts.ArchiveRawPayloads = f.archive
	}
	if changed("continue-on-error") {
		opts.ContinueOnError = f.continueOnErr
	}
	if f.strict {
		opts.ContinueOnError = false
	}
	if f.caseLimit < 0 {
		return ingest.Options{}, fmt.Errorf("--case-limit must not be negative")
	}
	return opts, nil
}

// effectiveConfig applies the connection flags shared by every command.
func effectiveConfig(cmd *cobra.Command, base *config.Config, f *ingestFlags) (*config.Config, error) {
	cfg := *base
	changed := cmd.Flags().Changed
	if changed("db-driver") {
		cfg.Database.Driver = f.dbDriver
	}
	if changed("db-url") {
		cfg.Database.URL = f.dbURL
	}
	if changed("fixture") {
		cfg.Ingest.FixturePath = f.fixture
	}
	if changed("api-token") {
		cfg.API.Token = f.apiToken
	}
	if changed("base-url") {
		cfg.API.BaseURL = f.baseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runIngest(cmd *cobra.Command, a *app, kind ingestKind, f *ingestFlags) error {
	ctx := cmd.Context()
	cfg, err := effectiveConfig(cmd, a.cfg, f)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(cmd, cfg, kind, f)
	if err != nil {
		return err
	}

	m := metrics.NewUnregistered()
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}

	var src client.Client
	if kind.source == clearinghouse.SourceMock {
		src, err = client.NewFixtureClient(cfg.Ingest.FixturePath)
	} else {
		if client.NormalizeToken(cfg.API.Token) == "" {
			return fmt.Errorf("an API token is required: pass --api-token or set CLEARINGHOUSE_API_TOKEN")
		}
		src, err = client.NewHTTPClient(cfg.API, client.WithClientMetrics(m))
	}
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	checker := health.NewChecker(5 * time.Second)
	checker.Register("database", db.DB.PingContext)

	pipelineOpts := []ingest.Option{ingest.WithMetrics(m)}
	if cfg.Ingest.Summarize {
		pipelineOpts = append(pipelineOpts, ingest.WithSummarizer(summarize.NewHeuristic(cfg.Ingest.MaxSummarySentences)))
	}
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		checker.Register("redis", rc.Ping)
		pipelineOpts = append(pipelineOpts, ingest.WithHashCache(storage.NewRedisHashCache(rc, cfg.Redis.KeyPrefix, cfg.Redis.HashTTL)))
		slog.Info("payload hash cache enabled", "addr", cfg.Redis.Addr)
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		pipelineOpts = append(pipelineOpts, ingest.WithEventPublisher(producer))
		slog.Info("case events enabled", "topic", cfg.Kafka.Topic)
	}

	p := ingest.New(src, db, pipelineOpts...)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, done := context.WithCancel(gctx)
	defer done()

	var sum *ingest.Summary
	g.Go(func() error {
		defer done()
		var runErr error
		sum, runErr = p.Run(runCtx, opts)
		return runErr
	})
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker.Handler())
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		})
	}
	err = g.Wait()

	if sum != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", kind.banner, sum)
	}
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*database.Client, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
