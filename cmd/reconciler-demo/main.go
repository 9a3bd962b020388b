package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tronrecon/internal/config"
	"tronrecon/internal/explorer"
	"tronrecon/internal/formmanager"
	"tronrecon/internal/reconciler"
	"tronrecon/internal/store"
	"tronrecon/internal/types"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	rootCmd := &cobra.Command{
		Use:     "reconciler-demo",
		Short:   "TRON/USDT payment reconciliation engine",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newServeCmd(cfg),
		newCreateFormCmd(cfg),
		newGetFormCmd(cfg),
		newStatusCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newServeCmd starts the reconciler's background polling loop and blocks
// until interrupted.
func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			expl, err := openExplorer(cfg)
			if err != nil {
				return err
			}

			forms := formmanager.New(db, cfg, expl)
			r := reconciler.New(db, expl, forms, cfg, 0)

			ctx, cancel := context.WithCancel(context.Background())
			r.StartMonitoring(ctx)
			wallet := cfg.WalletAddress
			if len(wallet) > 8 {
				wallet = wallet[:4] + "..." + wallet[len(wallet)-4:]
			}
			slog.Info("reconciler started", "wallet", wallet)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			slog.Info("shutting down")
			cancel()
			r.StopMonitoring()
			slog.Info("reconciler stopped")
			return nil
		},
	}
}

func newCreateFormCmd(cfg *config.Config) *cobra.Command {
	var amount float64
	var currency string
	var description string
	var expiresHours int

	cmd := &cobra.Command{
		Use:   "create-form",
		Short: "Create a new payment form",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			expl, err := openExplorer(cfg)
			if err != nil {
				return err
			}

			forms := formmanager.New(db, cfg, expl)
			form, err := forms.CreateForm(cmd.Context(), formmanager.CreateFormRequest{
				Amount:       amount,
				Currency:     types.Currency(currency),
				Description:  description,
				ExpiresHours: expiresHours,
			})
			if err != nil {
				return err
			}

			fmt.Printf("form_id:        %s\n", form.FormID)
			fmt.Printf("amount:         %s %s\n", form.Amount, form.Currency)
			fmt.Printf("original:       %s %s\n", form.OriginalAmount, form.Currency)
			fmt.Printf("payment url:    %s\n", formmanager.GeneratePaymentURL(form))
			fmt.Printf("qr data:        %s\n", formmanager.GeneratePaymentQRData(form))
			fmt.Printf("expires_at:     %d\n", form.ExpiresAt)
			return nil
		},
	}

	cmd.Flags().Float64Var(&amount, "amount", 0, "requested amount (required)")
	cmd.Flags().StringVar(&currency, "currency", "USDT", "TRX or USDT")
	cmd.Flags().StringVar(&description, "description", "", "payment description")
	cmd.Flags().IntVar(&expiresHours, "expires-hours", 24, "hours until the form expires (1-168)")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newGetFormCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-form [form-id]",
		Short: "Look up a payment form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			forms := formmanager.New(db, cfg, nil)
			form, found, err := forms.GetForm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("form not found")
				return nil
			}
			fmt.Printf("form_id:   %s\n", form.FormID)
			fmt.Printf("status:    %s\n", form.Status)
			fmt.Printf("amount:    %s %s\n", form.Amount, form.Currency)
			return nil
		},
	}
	return cmd
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [form-id]",
		Short: "Check a form's payment status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			forms := formmanager.New(db, cfg, nil)
			status, err := forms.CheckPaymentStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
	return cmd
}

func openStore(cfg *config.Config) (*store.DB, error) {
	poolCfg := store.DefaultPoolConfig(cfg.DatabasePath)
	if cfg.DBPoolSize > 0 {
		poolCfg.PoolSize = cfg.DBPoolSize
	}
	if cfg.DBPoolTimeout > 0 {
		poolCfg.AcquireTimeout = time.Duration(cfg.DBPoolTimeout) * time.Second
	}
	if cfg.DBCacheSize != 0 {
		poolCfg.CacheSize = cfg.DBCacheSize
	}
	if cfg.DBMmapSize > 0 {
		poolCfg.MmapSize = cfg.DBMmapSize
	}

	db, err := store.Open(poolCfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openExplorer(cfg *config.Config) (*explorer.Client, error) {
	return explorer.New(explorer.Config{
		BaseURL:           cfg.TronscanAPIURL,
		RequestsPerMinute: cfg.APIRequestsPerMinute,
		CacheTTL:          time.Duration(cfg.APICacheTTLSeconds) * time.Second,
	})
}

// setupLogging configures the global slog logger from cfg.LogLevel and
// cfg.LogFormat.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
