// Package cli is the cobra command tree behind the ledger binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	webAdapter "equipment-ledger/internal/adapters/web"
	"equipment-ledger/internal/ai"
	"equipment-ledger/internal/app"
	"equipment-ledger/internal/config"
	"equipment-ledger/internal/core"
	"equipment-ledger/internal/db"
	"equipment-ledger/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errDrift makes verify exit non-zero without printing a second error line.
var errDrift = errors.New("closing balance drift detected")

// Execute runs the command line in args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errDrift) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// NewRootCommand builds the ledger command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Equipment inventory ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newBalancesCmd(),
		newHistoryCmd(),
		newVerifyCmd(),
		newTokenCmd(),
	)
	return root
}

// runtime is what every database-backed command needs.
type runtime struct {
	cfg  *config.Config
	log  *zap.Logger
	pool *pgxpool.Pool
}

func (rt *runtime) close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	_ = rt.log.Sync()
}

func (rt *runtime) service() app.ApplicationService {
	agent := ai.NewAgent(rt.cfg.OpenAIAPIKey, rt.cfg.OpenAIModel)
	return app.NewFromPool(rt.pool, agent, rt.log, rt.cfg.ConflictRetries)
}

// loadConfig reads configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// connect loads configuration and opens the pool.
func connect(ctx context.Context) (*runtime, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, log, false)
}

// open optionally migrates, then opens the pool.
func open(ctx context.Context, cfg *config.Config, log *zap.Logger, migrateFirst bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}
	if err := cfg.RequireDatabaseURL(); err != nil {
		rt.close()
		return nil, err
	}
	if migrateFirst {
		if err := db.Migrate(cfg.DatabaseURL, log); err != nil {
			rt.close()
			return nil, err
		}
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.pool = pool
	return rt, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWTSecret(); err != nil {
				_ = log.Sync()
				return err
			}

			rt, err := open(cmd.Context(), cfg, log, cfg.MigrateOnStart)
			if err != nil {
				return err
			}
			defer rt.close()
			return serve(cmd.Context(), rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	if rt.cfg.OpenAIAPIKey == "" {
		rt.log.Warn("OPENAI_API_KEY is not set; movement assistant disabled")
	}

	srv := &http.Server{
		Addr:              ":" + rt.cfg.ServerPort,
		Handler:           webAdapter.NewHandler(ctx, rt.service(), rt.log, rt.cfg.AllowedOrigins, rt.cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := cfg.RequireDatabaseURL(); err != nil {
				return err
			}
			if down {
				return db.MigrateDown(cfg.DatabaseURL, log)
			}
			return db.Migrate(cfg.DatabaseURL, log)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration (development only)")
	return cmd
}

func newBalancesCmd() *cobra.Command {
	var locationID, kindID int
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List equipment balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			var filter core.BalanceFilter
			if cmd.Flags().Changed("location") {
				filter.LocationID = &locationID
			}
			if cmd.Flags().Changed("kind") {
				filter.EquipmentKindID = &kindID
			}
			result, err := rt.service().ListBalances(cmd.Context(), core.AllLocations(), filter)
			if err != nil {
				return err
			}
			printBalances(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().IntVar(&locationID, "location", 0, "only balances at this location id")
	cmd.Flags().IntVar(&kindID, "kind", 0, "only balances of this equipment kind id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		events string
	)
	cmd := &cobra.Command{
		Use:   "history <balance-id>",
		Short: "Show a balance's audit history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("balance id must be a positive integer, got %q", args[0])
			}
			rt, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			filter := core.HistoryFilter{Limit: limit}
			for _, e := range strings.Split(events, ",") {
				if e = strings.ToUpper(strings.TrimSpace(e)); e != "" {
					filter.EventKinds = append(filter.EventKinds, e)
				}
			}
			result, err := rt.service().BalanceHistory(cmd.Context(), core.AllLocations(), id, filter)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), id, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", core.DefaultHistoryLimit, "maximum entries to show")
	cmd.Flags().StringVar(&events, "event", "", "comma-separated event kinds, e.g. ACQUISITION,CONSUMPTION")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every closing balance against its movements; exits 1 on drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.service().Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			printReconcile(cmd.OutOrStdout(), result)
			if !result.Healthy {
				return errDrift
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject    string
		scope      string
		locationID int
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWTSecret(); err != nil {
				return err
			}
			s, err := core.ParseScope(scope, locationID)
			if err != nil {
				return err
			}
			tok, err := webAdapter.IssueToken(cfg.JWTSecret, subject, s, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "actor id placed in the token subject")
	cmd.Flags().StringVar(&scope, "scope", "none", "location scope: all, location or none")
	cmd.Flags().IntVar(&locationID, "location", 0, "location id for --scope location")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
