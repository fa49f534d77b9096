package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/nikodemus-eth/corvusforge/pkg/artifacts"
	"github.com/nikodemus-eth/corvusforge/pkg/config"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
	"github.com/nikodemus-eth/corvusforge/pkg/guard"
	"github.com/nikodemus-eth/corvusforge/pkg/ledger"
	"github.com/nikodemus-eth/corvusforge/pkg/orchestrator"
	"github.com/nikodemus-eth/corvusforge/pkg/prereq"
	"github.com/nikodemus-eth/corvusforge/pkg/sink"
	"github.com/nikodemus-eth/corvusforge/pkg/stagemachine"
	"github.com/nikodemus-eth/corvusforge/pkg/waiver"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runDemo(stdout, stderr)
	}

	switch args[1] {
	case "run":
		return runDemo(stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Corvusforge Integrity Core")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  corvusforge <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  run      Drive one illustrative pipeline run end to end (default)")
	fmt.Fprintln(w, "  verify   Verify a run's ledger chain (--config, --run)")
	fmt.Fprintln(w, "  doctor   Check configuration and production readiness")
	fmt.Fprintln(w, "  help     Show this help")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{Environment: config.EnvironmentDevelopment}, nil
	}
	return config.Load(path)
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	if cfg.Ledger.DSN == "" || cfg.Ledger.DSN == ":memory:" {
		return sql.Open("sqlite", ":memory:")
	}
	if cfg.IsProduction() {
		return sql.Open("postgres", cfg.Ledger.DSN)
	}
	return sql.Open("sqlite", cfg.Ledger.DSN)
}

// wired bundles every component the orchestrator is composed from, so
// callers (the CLI commands below, and tests) can reach past the
// Orchestrator's façade when they need to.
type wired struct {
	cfg     *config.Config
	bridge  *crypto.Bridge
	ledger  *ledger.Ledger
	machine *stagemachine.Machine
	waivers *waiver.Manager
	sinks   *sink.Dispatcher
	orch    *orchestrator.Orchestrator
}

func wireUp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*wired, error) {
	waiverMode := waiver.ModePermissive
	if cfg.Waivers.Strict {
		waiverMode = waiver.ModeStrict
	}

	bridge := crypto.NewBridge(logger)

	if err := guard.Check(cfg, bridge, waiverMode); err != nil {
		return nil, fmt.Errorf("production guard: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	l, err := ledger.New(db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	graph, err := prereq.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to build prerequisite graph: %w", err)
	}

	wm, err := waiver.New(bridge, cfg.Trust.WaiverSigningKeyPublicHex, waiverMode)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize waiver manager: %w", err)
	}
	wm = wm.WithLogger(logger)

	store, err := artifacts.NewStore(ctx, artifacts.FactoryConfig{
		Backend:    artifacts.BackendType(cfg.Artifacts.Backend),
		BaseDir:    cfg.Artifacts.BaseDir,
		S3Bucket:   cfg.Artifacts.S3Bucket,
		S3Region:   cfg.Artifacts.S3Region,
		S3Endpoint: cfg.Artifacts.S3Endpoint,
		S3Prefix:   cfg.Artifacts.S3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	wm = wm.WithArtifactStore(store)

	if cfg.SupplementaryPolicyExpr != "" {
		if err := guard.Check(cfg, bridge, waiverMode, wm); err != nil {
			return nil, fmt.Errorf("production guard (supplementary policy): %w", err)
		}
	}

	machine := stagemachine.New(l, graph, wm)

	dispatcher := sink.New(logger)
	dispatcher.Register(sink.NewLogSink(logger))
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "log":
			// already registered above; repeated "log" entries are no-ops.
		case "postgres":
			pdb, err := sql.Open("postgres", sc.DSN)
			if err != nil {
				return nil, fmt.Errorf("failed to open postgres sink: %w", err)
			}
			ps, err := sink.NewPostgresSink(pdb)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize postgres sink: %w", err)
			}
			dispatcher.Register(ps)
		case "redis":
			opts, err := redis.ParseURL(sc.DSN)
			if err != nil {
				return nil, fmt.Errorf("failed to parse redis sink DSN: %w", err)
			}
			rdb := redis.NewClient(opts)
			dispatcher.Register(sink.NewRedisSink(rdb, sc.Channel))
		default:
			logger.Warn("unrecognized sink type, skipping", "type", sc.Type)
		}
	}

	orch := orchestrator.New(l, machine, bridge,
		orchestrator.WithTrustKeys(
			cfg.Trust.PluginTrustRootPublicHex,
			cfg.Trust.WaiverSigningKeyPublicHex,
			cfg.Trust.AnchorKeyPublicHex,
		),
		orchestrator.WithVersions("corvusforge-v1", "1.0.0", "go1.24"),
	)

	return &wired{
		cfg:     cfg,
		bridge:  bridge,
		ledger:  l,
		machine: machine,
		waivers: wm,
		sinks:   dispatcher,
		orch:    orch,
	}, nil
}

func runDemo(stdout, stderr io.Writer) int {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(stdout, nil))

	cfg, err := loadConfig(os.Getenv("CORVUSFORGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	w, err := wireUp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "failed to wire orchestrator: %v\n", err)
		return 1
	}

	w.orch.RegisterHandler(contracts.StagePrerequisites, func(ctx context.Context, payload map[string]any) (map[string]any, []string, error) {
		return map[string]any{"resolved": true}, nil, nil
	})

	runID, err := w.orch.StartRun(ctx, map[string]any{"requested_by": "cli"})
	if err != nil {
		fmt.Fprintf(stderr, "failed to start run: %v\n", err)
		return 1
	}

	if _, err := w.orch.ExecuteStage(ctx, runID, contracts.StagePrerequisites, map[string]any{}); err != nil {
		fmt.Fprintf(stderr, "stage execution failed: %v\n", err)
		return 1
	}

	if err := w.orch.VerifyChain(ctx, runID); err != nil {
		fmt.Fprintf(stderr, "chain verification failed: %v\n", err)
		return 1
	}

	result := map[string]any{
		"run_id": runID,
		"states": w.orch.GetStates(runID),
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var configPath, runID string
	cmd.StringVar(&configPath, "config", "", "Path to YAML configuration file")
	cmd.StringVar(&runID, "run", "", "Run ID to verify (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if runID == "" {
		fmt.Fprintln(stderr, "Error: --run is required")
		return 2
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(stdout, nil))

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	w, err := wireUp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "failed to wire orchestrator: %v\n", err)
		return 1
	}

	if err := w.orch.VerifyChain(ctx, runID); err != nil {
		fmt.Fprintf(stderr, "chain integrity failure: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "run %s: ledger chain intact\n", runID)
	return 0
}

func runDoctorCmd(stdout, stderr io.Writer) int {
	cfg, err := loadConfig(os.Getenv("CORVUSFORGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	waiverMode := waiver.ModePermissive
	if cfg.Waivers.Strict {
		waiverMode = waiver.ModeStrict
	}
	bridge := crypto.NewBridge(nil)

	if err := guard.Check(cfg, bridge, waiverMode); err != nil {
		fmt.Fprintf(stderr, "production guard: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "environment: %s\n", cfg.Environment)
	fmt.Fprintf(stdout, "crypto provider: %s\n", bridge.ProviderName())
	if cfg.IsProduction() {
		fmt.Fprintln(stdout, "configuration is production-ready")
	} else {
		fmt.Fprintln(stdout, "configuration is valid")
	}
	return 0
}

