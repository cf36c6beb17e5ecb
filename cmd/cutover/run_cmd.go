package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forgeworks/cutover/modules/migration/infrastructure/boundary"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/detect"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/extract"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/persistence"
	"github.com/forgeworks/cutover/modules/migration/services"
	"github.com/forgeworks/cutover/pkg/composables"
	"github.com/forgeworks/cutover/pkg/configuration"
	"github.com/forgeworks/cutover/pkg/eventbus"
)

type runOptions struct {
	jobID        uuid.UUID
	orgID        uuid.UUID
	system       string
	entities     []string
	inputDir     string
	baseURL      string
	auth         string
	batchSize    int
	transformCfg string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	var jobFlag, orgFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a migration job: extract, transform, plan and load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&jobFlag, "job", "", "Job UUID (default: random)")
	cmd.Flags().StringVar(&orgFlag, "org", "", "Org UUID (required)")
	cmd.Flags().StringVar(&opts.system, "system", "", "Legacy system name (required)")
	cmd.Flags().StringSliceVar(&opts.entities, "entities", nil, "Entity types to migrate, in order (required)")
	cmd.Flags().StringVar(&opts.inputDir, "input", "", "Directory of <entity>.jsonl legacy exports (required)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Target API base URL (required)")
	cmd.Flags().StringVar(&opts.auth, "auth", "", "Authorization header value for the target API")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Extraction batch size (default from config)")
	cmd.Flags().StringVar(&opts.transformCfg, "transform-config", "", "Transform config path (default from config)")

	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("system")
	_ = cmd.MarkFlagRequired("entities")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("base-url")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		org, err := uuid.Parse(strings.TrimSpace(orgFlag))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --org: %w", err))
		}
		opts.orgID = org

		opts.jobID = uuid.New()
		if strings.TrimSpace(jobFlag) != "" {
			id, err := uuid.Parse(strings.TrimSpace(jobFlag))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --job: %w", err))
			}
			opts.jobID = id
		}
		return nil
	}

	return cmd
}

func runMigration(ctx context.Context, opts runOptions) error {
	conf := configuration.Use()
	logger := conf.Logger().WithField("command", "run")

	if opts.batchSize <= 0 {
		opts.batchSize = conf.Load.BatchSize
	}
	if opts.transformCfg == "" {
		opts.transformCfg = conf.TransformConfig
	}

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect database: %w", err))
	}
	defer pool.Close()
	ctx = composables.WithPool(ctx, pool)

	if conf.Prometheus.Enabled {
		stopMetrics := serveMetrics(conf.Prometheus, logger)
		defer stopMetrics()
	}

	transformer, err := services.LoadChainTransformer(opts.transformCfg)
	if err != nil {
		return withCode(exitUsage, err)
	}

	target, err := boundary.NewHTTPBoundary(opts.baseURL, opts.auth)
	if err != nil {
		return withCode(exitUsage, err)
	}
	detector := detect.NewFuzzyDetector(target.FetchCandidates, detect.Options{
		MaxCandidates: conf.Conflict.DetectorCandidates,
	})

	lineageRepo := persistence.NewLineageRepository()
	checkpointRepo := persistence.NewCheckpointRepository()
	quarantineRepo := persistence.NewQuarantineRepository()

	planner := services.NewPlanner(lineageRepo, detector, persistence.NewMergeExplanationRepository(), services.PlannerConfig{
		Strategy:          services.ConflictStrategy(conf.Conflict.Strategy),
		AutoMergeScore:    conf.Conflict.AutoMergeScore,
		ManualReviewScore: conf.Conflict.ManualReviewScore,
		Logger:            logger,
	})
	loader := services.NewLoader(
		lineageRepo,
		checkpointRepo,
		quarantineRepo,
		persistence.NewConflictReviewRepository(),
		persistence.NewSnapshotRepository(),
		target,
		eventbus.NewEventPublisher(conf.Logger()),
		services.LoaderOptions{
			CreateWorkers:      conf.Load.CreateWorkers,
			CheckpointInterval: conf.Load.CheckpointInterval,
			Logger:             logger,
		},
	)
	replay := services.NewReplayService(lineageRepo, quarantineRepo, target, logger)

	pipeline := services.NewPipeline(
		extract.NewJSONLExtractor(opts.inputDir),
		transformer,
		planner,
		loader,
		replay,
		checkpointRepo,
		quarantineRepo,
		services.PipelineOptions{Logger: logger},
	)

	summary, err := pipeline.Run(ctx, services.Job{
		ID:          opts.jobID,
		OrgID:       opts.orgID,
		System:      opts.system,
		EntityTypes: opts.entities,
		BatchSize:   opts.batchSize,
	})
	if err != nil {
		var blocked *services.BlockedError
		if errors.As(err, &blocked) {
			return withCode(exitBlocked, err)
		}
		return withCode(exitDB, err)
	}

	logger.WithFields(logrus.Fields{
		"job_id":      opts.jobID.String(),
		"loaded":      summary.Loaded,
		"skipped":     summary.Skipped,
		"manual":      summary.Manual,
		"quarantined": summary.Quarantined,
	}).Info("run complete")
	fmt.Printf("job %s: loaded=%d skipped=%d manual=%d quarantined=%d\n",
		opts.jobID, summary.Loaded, summary.Skipped, summary.Manual, summary.Quarantined)
	return nil
}

// serveMetrics exposes the process metrics for the duration of the run.
func serveMetrics(opts configuration.PrometheusOptions, logger *logrus.Entry) func() {
	mux := http.NewServeMux()
	mux.Handle(opts.Path, promhttp.Handler())
	srv := &http.Server{Addr: opts.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics listener stopped")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
