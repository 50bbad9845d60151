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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/model-orchestrator/config"
	"github.com/vnmchuo/model-orchestrator/internal/billing"
	"github.com/vnmchuo/model-orchestrator/internal/logging"
	"github.com/vnmchuo/model-orchestrator/internal/proxy"
	"github.com/vnmchuo/model-orchestrator/internal/seeder"
	"github.com/vnmchuo/model-orchestrator/internal/task"
	"github.com/vnmchuo/model-orchestrator/internal/telemetry"
	"github.com/vnmchuo/model-orchestrator/pkg/ratelimit"
)

const serviceName = "model-orchestrator"

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Route tasks to the best available model backend",
		Long: `orchestrator scores the configured model backends per task type,
calls the best one and walks the fallback chain when it fails.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(seedKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and builds the logger, tracer and app.
func setup(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	tracer, shutdownTracer, err := telemetry.InitTracer(serviceName, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}
	a, err := newApp(ctx, cfg, log, tracer)
	if err != nil {
		shutdownTracer()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		shutdownTracer()
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var limiter *ratelimit.Limiter
			if a.rdb != nil {
				limiter = ratelimit.NewLimiter(a.rdb, a.cfg.DefaultRateLimitTPM)
			}
			var usage billing.Store
			if a.billing != nil {
				usage = a.billing
			}
			h := proxy.NewHandler(a.orch, usage, limiter, a.tracer, a.log)

			srv := &http.Server{
				Addr:         ":" + a.cfg.Port,
				Handler:      proxy.NewRouter(h, a.authMiddleware(), a.log),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info().
					Str("port", a.cfg.Port).
					Int("backends", a.registry.Len()).
					Bool("auth", a.authStore != nil).
					Bool("rate_limit", limiter != nil).
					Msg("model orchestrator starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			a.log.Info().Msg("server stopped")
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	var (
		taskFlag     string
		priorityFlag string
		systemFlag   string
		noFallback   bool
		maxTokens    int
		temperature  float64
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec [prompt]",
		Short: "Execute one task and print the response as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := task.ParseType(taskFlag)
			if err != nil {
				return err
			}
			p, err := task.ParsePriority(priorityFlag)
			if err != nil {
				return err
			}

			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			req := task.Request{
				Prompt:           args[0],
				System:           systemFlag,
				TaskType:         t,
				Priority:         p,
				FallbackRequired: !noFallback,
			}
			if cmd.Flags().Changed("max-tokens") {
				req.Overrides.MaxTokens = &maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Overrides.Temperature = &temperature
			}
			if cmd.Flags().Changed("timeout") {
				req.Overrides.Timeout = &timeout
			}

			resp, err := a.orch.Execute(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("task failed on %s: %s", resp.BackendUsed, resp.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&taskFlag, "task", "t", string(task.General), "task type")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", "normal", "low, normal or high")
	cmd.Flags().StringVar(&systemFlag, "system", "", "system prompt")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "fail instead of walking the fallback chain")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "override the backend max tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "override the backend temperature")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt timeout")

	return cmd
}

func backendsCmd() *cobra.Command {
	var taskFlag, priorityFlag string

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List configured backends, or rank them for a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if taskFlag == "" {
				fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tCOST/1K\tREL\tSPEED\tQUAL\tCREDENTIALS")
				for _, b := range a.registry.List() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%.2f\t%.2f\t%.2f\t%t\n",
						b.ID, b.Provider, b.Model, b.CostPer1K, b.Reliability, b.Speed, b.Quality, b.HasCredentials())
				}
				fmt.Fprintf(w, "\nfallback order: %v\n", a.registry.FallbackOrder())
				return nil
			}

			t, err := task.ParseType(taskFlag)
			if err != nil {
				return err
			}
			p, err := task.ParsePriority(priorityFlag)
			if err != nil {
				return err
			}
			ranked := a.orch.Selector().Rank(ctx, &task.Request{TaskType: t, Priority: p})
			if len(ranked) == 0 {
				fmt.Fprintf(w, "no available backend for %s; the local fallback would answer\n", t)
				return nil
			}
			fmt.Fprintln(w, "RANK\tID\tSCORE")
			for i, c := range ranked {
				fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, c.Backend.ID, c.Score.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&taskFlag, "task", "t", "", "rank backends for this task type")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", "normal", "low, normal or high")

	return cmd
}

func seedKeyCmd() *cobra.Command {
	var tenantID, key string
	var tpm int64

	cmd := &cobra.Command{
		Use:   "seed-key",
		Short: "Create an API key for a tenant (requires POSTGRES_DSN)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if a.authStore == nil {
				return errors.New("seed-key requires POSTGRES_DSN")
			}
			if key == "" {
				key = seeder.NewKey()
			}
			k, err := seeder.SeedAPIKey(ctx, a.authStore, key, tenantID, tpm)
			if err != nil {
				return err
			}
			a.log.Info().Str("tenant_id", k.TenantID).Int64("rate_limit_tpm", k.RateLimit).Msg("api key seeded")
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", seeder.DevTenantID, "tenant id")
	cmd.Flags().StringVar(&key, "key", "", "raw key to store (generated when empty)")
	cmd.Flags().Int64Var(&tpm, "tpm", 0, "tokens per minute (server default when 0)")

	return cmd
}
