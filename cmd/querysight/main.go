// Command querysight runs the natural-language charting service: load CSVs
// into the relational store, describe them into the index, and serve the
// prompt-to-chart pipeline over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"querysight/internal/analyzer"
	"querysight/internal/catalog"
	"querysight/internal/config"
	"querysight/internal/embedding"
	"querysight/internal/engine"
	"querysight/internal/errhandler"
	"querysight/internal/jobs"
	"querysight/internal/llm"
	"querysight/internal/logging"
	"querysight/internal/parse"
	"querysight/internal/pipeline"
	"querysight/internal/server"
	"querysight/internal/sqlitedrv"
	"querysight/internal/store"
	"querysight/internal/synth"
)

var version = "dev"

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "querysight",
	Short: "Natural-language questions over tabular data, answered as charts",
	Long: `querysight loads CSV files into a relational store, builds a
descriptive index over the schema, and turns natural-language questions
into SQL, normalized datasets, and renderable chart artifacts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
			cfg.Logging.Format = "console"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.csv ...]",
	Short: "Load CSV files into the store and rebuild the descriptive index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run one prompt through the pipeline and print the artifact",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loaded tables and their source files",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("querysight", version)
	},
}

// stack is the wired component graph behind every subcommand.
type stack struct {
	cat      *catalog.Catalog
	index    *store.Index
	analyzer *analyzer.Analyzer
	orch     *pipeline.Orchestrator
	reg      *jobs.Registry
	close    func()
}

// buildStack opens the store and wires the pipeline. requireLLM controls
// whether a missing API key is fatal; ingest and status work without one.
func buildStack(requireLLM bool) (*stack, error) {
	db, err := sqlitedrv.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}

	cat := catalog.New(db, cfg.Database.Path, cfg.Database.CatalogTTL, logger)

	var client llm.Client
	httpClient, err := llm.NewHTTPClient(cfg.LLM, logger)
	if err != nil {
		if requireLLM {
			db.Close()
			return nil, err
		}
		logger.Warn("LLM unavailable, running with rule-based stages only", zap.Error(err))
	} else {
		client = httpClient
	}

	var idx *store.Index
	var an *analyzer.Analyzer
	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding engine unavailable, descriptive index disabled", zap.Error(err))
	} else {
		idx, err = store.NewIndex(db, embedder, cfg.Index, logger)
		if err != nil {
			logger.Warn("descriptive index unavailable", zap.Error(err))
			idx = nil
		}
	}
	if idx != nil && client != nil {
		an = analyzer.New(client, cat, idx, cfg.Index.BuildConcurrency, logger)
	}

	parser := parse.NewParser(cat, idx, client, logger)
	parser.SetValidationThreshold(cfg.Pipeline.ValidationThreshold)
	eng := engine.New(db, cat, client, cfg.Pipeline.CacheTTL, logger)
	syn := synth.NewSynthesizer(client, logger)

	cache := func(queryID string, ctx map[string]any) (*engine.NormalizedDataset, bool) {
		if key, ok := ctx["cache_key"].(string); ok {
			return eng.CacheLookup(key)
		}
		return nil, false
	}
	router := errhandler.NewFeedbackRouter(logger)
	router.RegisterOps(func(rec *errhandler.Record) {
		logger.Error("escalated to ops",
			zap.String("error_id", rec.ErrorID),
			zap.String("kind", string(rec.Kind)),
			zap.String("root_cause", rec.RootCause))
	})
	handler := errhandler.NewHandler(cfg.Pipeline.IdempotencyTTL, cache, router, logger)

	reg := jobs.NewRegistry(cfg.Pipeline.JobTTL, logger)
	orch := pipeline.New(parser, eng, syn, handler, cat, reg, logger)

	return &stack{
		cat:      cat,
		index:    idx,
		analyzer: an,
		orch:     orch,
		reg:      reg,
		close: func() {
			reg.Close()
			db.Close()
		},
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := buildStack(true)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.WatchDir && cfg.Database.DataDir != "" {
		go func() {
			if err := st.cat.Watch(ctx, cfg.Database.DataDir); err != nil {
				logger.Warn("data directory watch stopped", zap.Error(err))
			}
		}()
	}

	srv := server.New(cfg.Server, st.orch, st.reg, st.cat, st.analyzer, logger)
	return srv.Run(ctx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, err := buildStack(false)
	if err != nil {
		return err
	}
	defer st.close()

	ctx := cmd.Context()
	for _, path := range args {
		report, err := st.cat.Ingest(ctx, path, "")
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("loaded %s as %s (%d rows, %d columns)\n",
			report.FileName, report.TableName, report.RowCount, report.ColumnCount)
	}

	if st.analyzer == nil {
		fmt.Println("descriptive index skipped (LLM or embeddings unavailable)")
		return nil
	}
	if err := st.analyzer.IndexAll(ctx); err != nil {
		return fmt.Errorf("index build: %w", err)
	}
	fmt.Println("descriptive index rebuilt")
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	st, err := buildStack(true)
	if err != nil {
		return err
	}
	defer st.close()

	prompt := ""
	for i, a := range args {
		if i > 0 {
			prompt += " "
		}
		prompt += a
	}

	job := st.orch.Submit(prompt)
	fmt.Println("job:", job.ID)

	deadline := time.Now().Add(cfg.Pipeline.StageTimeout * 3)
	for time.Now().Before(deadline) {
		got, err := st.reg.Get(job.ID)
		if err != nil {
			return err
		}
		if got.Status.Terminal() {
			if got.Status == jobs.StatusCompleted && got.Result != nil {
				fmt.Printf("chart_type: %s\ncomponent: %s\n\n%s\n",
					got.Result.ChartType, got.Result.ArtifactName, got.Result.ArtifactCode)
				return nil
			}
			return fmt.Errorf("job %s: %s", got.Status, got.ErrorMessage)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for job %s", job.ID)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := buildStack(false)
	if err != nil {
		return err
	}
	defer st.close()

	status, err := st.cat.DatabaseStatus(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("database: %s (%d tables)\n", status.DatabasePath, status.TotalTables)
	for _, t := range status.Tables {
		fmt.Printf("  %-24s %6d rows  %3d cols  from %s (loaded %s)\n",
			t.TableName, t.RowCount, t.ColumnCount, t.FileName, t.LoadedAt)
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "querysight.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to console")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
