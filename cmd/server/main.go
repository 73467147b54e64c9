// Command server runs the constitutional governance pipeline, either
// as a long-lived HTTP service or as a one-shot batch run over a JSON
// input file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"constitutional-gov/internal/api"
	"constitutional-gov/internal/audit"
	"constitutional-gov/internal/cache"
	"constitutional-gov/internal/config"
	"constitutional-gov/internal/detection"
	"constitutional-gov/internal/escalation"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/notify"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/internal/pipeline"
	"constitutional-gov/internal/processor"
	"constitutional-gov/internal/resolution"
	"constitutional-gov/internal/scoring"
	"constitutional-gov/internal/store"
	"constitutional-gov/pkg/types"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "governance",
		Short: "Constitutional governance conflict pipeline",
		Long: "Detects conflicts among constitutional principles and operational policies,\n" +
			"resolves what it can automatically, and escalates the rest through the\n" +
			"review hierarchy.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stack bundles the wired pipeline components.
type stack struct {
	cfg          *config.Store
	orchestrator *pipeline.Orchestrator
	escalations  *escalation.Service
	proc         *processor.Processor
	workflow     *resolution.Workflow
	patterns     cache.PatternCache
	auditSink    *audit.LogSink
	db           *store.Store
	logger       logging.Logger
}

func buildStack(ctx context.Context, withStore bool) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))
	cfgStore := config.NewStore(cfg, configPath, logger)

	var patterns cache.PatternCache
	switch cfg.Cache.Backend {
	case "redis":
		redisCache, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, "", 0, logger)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		patterns = redisCache
	default:
		patterns = cache.NewMemoryCache()
	}

	generator, err := oracle.NewGenerator(cfg.Oracle)
	if err != nil {
		return nil, err
	}
	dispatcher, err := notify.NewDispatcher(cfg.Notify, logger)
	if err != nil {
		return nil, err
	}

	var db *store.Store
	var persister escalation.Persister
	if withStore {
		db, err = store.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		persister = db
	}

	history := scoring.NewWindowHistory(cfg.Escalation.RepeatWindow, cfg.Escalation.RepeatThreshold*2)
	engine := detection.NewEngine(cfgStore, oracle.NewLexicalDistance(), oracle.NewHeuristicRisk(), logger)
	scorer := scoring.NewScorer(cfgStore, history, logger)
	workflow := resolution.NewWorkflow(cfgStore, generator, logger)
	proc := processor.New(cfgStore, scorer, workflow, patterns, history, logger)

	directory := escalation.NewStaticDirectory(map[string][]string{
		"technical_reviewer":         {"tech-reviewer-1", "tech-reviewer-2"},
		"policy_manager":             {"policy-manager-1"},
		"stakeholder_representative": {"stakeholder-rep-1"},
		"council_member":             {"council-member-1", "council-member-2", "council-member-3"},
		"emergency_responder":        {"emergency-oncall"},
	})
	escalations := escalation.NewService(cfgStore, directory, dispatcher, persister, history, logger)
	auditSink := audit.NewLogSink(logger, 256)

	return &stack{
		cfg:          cfgStore,
		orchestrator: pipeline.New(engine, proc, workflow, escalations, patterns, auditSink, logger),
		escalations:  escalations,
		proc:         proc,
		workflow:     workflow,
		patterns:     patterns,
		auditSink:    auditSink,
		db:           db,
		logger:       logger,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the escalation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, true)
			if err != nil {
				return err
			}
			defer func() {
				if st.db != nil {
					_ = st.db.Close()
				}
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = st.auditSink.Close(closeCtx)
			}()

			go func() {
				if err := st.escalations.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					st.logger.Error("escalation sweeper stopped", "error", err.Error())
				}
			}()
			go func() {
				if err := st.cfg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					st.logger.Error("config watcher stopped", "error", err.Error())
				}
			}()

			cfg := st.cfg.Current()
			server := api.NewServer(st.cfg, st.orchestrator, st.escalations, st.proc, st.workflow, st.patterns, st.logger)
			httpServer := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:      server.Router(),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				st.logger.Info("http server listening", "addr", httpServer.Addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

type runInput struct {
	Principles []types.Principle       `json:"principles"`
	Policies   []types.Policy          `json:"policies"`
	Context    *types.DetectionContext `json:"context,omitempty"`
}

func runCmd() *cobra.Command {
	var inputPath string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once over a JSON input file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			var input runInput
			if err := json.Unmarshal(data, &input); err != nil {
				return fmt.Errorf("parse input: %w", err)
			}

			st, err := buildStack(ctx, false)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = st.auditSink.Close(closeCtx)
			}()

			report, err := st.orchestrator.Run(ctx, input.Principles, input.Policies, input.Context)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}
			printSummary(report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "governance.json", "JSON file with principles and policies")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full report as JSON")
	return cmd
}

func printSummary(report *pipeline.Report) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Printf("Run %s: %s\n", report.RunID, report.Status)
	fmt.Printf("  conflicts detected:  %d\n", len(report.Conflicts))

	resolved, escalated, failed := 0, 0, 0
	for _, c := range report.Corrections {
		switch c.Status {
		case types.StatusResolvedAutomatically:
			resolved++
		case types.StatusFailed, types.StatusTimeout:
			failed++
		default:
			escalated++
		}
	}
	green.Printf("  resolved automatically: %d\n", resolved)
	yellow.Printf("  escalated to humans:    %d\n", escalated)
	if failed > 0 {
		red.Printf("  failed or timed out:    %d\n", failed)
	}

	for _, record := range report.Escalations {
		yellow.Printf("  -> %s at %s (assigned: %s, respond by %s)\n",
			record.ViolationID, record.Level,
			orUnassigned(record.AssignedEntity),
			record.ResponseDeadline.Format(time.RFC3339))
	}

	if len(report.RefinementSuggestions) > 0 {
		bold.Println("  suggestions:")
		for _, sg := range report.RefinementSuggestions {
			fmt.Printf("   - %s\n", sg)
		}
	}
	for _, e := range report.Errors {
		red.Printf("  error: %s\n", e)
	}
	fmt.Printf("  total duration: %s\n", report.Metrics.TotalDuration.Round(time.Millisecond))
}

func orUnassigned(entity string) string {
	if entity == "" {
		return "unassigned"
	}
	return entity
}
