package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alpharace/mailqueue/internal/api"
	"github.com/alpharace/mailqueue/internal/config"
	"github.com/alpharace/mailqueue/internal/delivery"
	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/queue"
	"github.com/alpharace/mailqueue/internal/storage"
	"github.com/alpharace/mailqueue/internal/transport"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailqueue",
		Short: "Durable email delivery queue for the Alpha Race Team backend",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(enqueueCmd(&configPath))
	rootCmd.AddCommand(processCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(purgeCmd(&configPath))
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mailqueue server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			svc := buildQueue(cfg, store, log)
			svc.StartScheduler()
			defer svc.StopScheduler()

			server := api.NewServer(cfg.Server, cfg.API, svc, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("provider", cfg.Provider.Driver).
				Dur("interval", cfg.Queue.Interval).
				Msg("mailqueue is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			log.Info().Msg("mailqueue stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func enqueueCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add an email to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			subject, _ := cmd.Flags().GetString("subject")
			body, _ := cmd.Flags().GetString("body")
			template, _ := cmd.Flags().GetString("template")
			name, _ := cmd.Flags().GetString("name")
			priority, _ := cmd.Flags().GetInt("priority")

			if to == "" {
				return fmt.Errorf("--to is required")
			}

			var req queue.EnqueueRequest
			switch template {
			case "welcome":
				req = queue.WelcomeEmail(name, to, "changeme")
			case "password-reset":
				req = queue.PasswordResetEmail(name, to, "https://example.com/reset")
			case "":
				if subject == "" || body == "" {
					return fmt.Errorf("--subject and --body are required without --template")
				}
				req = queue.EnqueueRequest{
					Recipient: to,
					Subject:   subject,
					HTMLBody:  body,
					Priority:  priority,
				}
			default:
				return fmt.Errorf("unknown template %q (welcome, password-reset)", template)
			}

			svc, _, cleanup, err := queueFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			email, err := svc.Enqueue(context.Background(), req)
			if err != nil {
				return fmt.Errorf("failed to enqueue email: %w", err)
			}
			svc.StopScheduler()

			out, _ := json.MarshalIndent(email, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("to", "", "recipient address")
	cmd.Flags().String("subject", "", "subject line")
	cmd.Flags().String("body", "", "HTML body")
	cmd.Flags().String("template", "", "canned template: welcome, password-reset")
	cmd.Flags().String("name", "", "recipient name for canned templates")
	cmd.Flags().Int("priority", 0, "priority 0-10, higher is more urgent")
	return cmd
}

func processCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one processing cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			engine := delivery.NewEngine(store, setupTransport(cfg.Provider, log), delivery.Backoff{
				Base: cfg.Queue.BaseDelay,
				Max:  cfg.Queue.MaxDelay,
			}, cfg.Queue.BatchSize, cfg.Queue.Concurrency, log)

			report, err := engine.RunCycle(context.Background())
			if err != nil {
				return fmt.Errorf("cycle failed: %w", err)
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := queueFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.Stats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func purgeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old sent/failed/cancelled emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			svc, cfg, cleanup, err := queueFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if !cmd.Flags().Changed("days") {
				days = cfg.Retention.MaxAgeDays
			}

			removed, err := svc.PurgeOld(context.Background(), days)
			if err != nil {
				return fmt.Errorf("failed to purge: %w", err)
			}

			fmt.Printf("removed %d emails\n", removed)
			return nil
		},
	}
	cmd.Flags().Int("days", 30, "delete terminal emails older than this many days")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an admin API key for api.admin_key",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(models.NewAPIKey())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailqueue v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupTransport(cfg config.ProviderConfig, log zerolog.Logger) transport.Transport {
	switch cfg.Driver {
	case "resend":
		return transport.NewResend(cfg.APIKey, cfg.From, cfg.Timeout)
	case "smtp":
		return transport.NewSMTP(transport.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.From,
		})
	default:
		return transport.NewConsole(log)
	}
}

func buildQueue(cfg *config.Config, store storage.Storage, log zerolog.Logger) *queue.Service {
	engine := delivery.NewEngine(store, setupTransport(cfg.Provider, log), delivery.Backoff{
		Base: cfg.Queue.BaseDelay,
		Max:  cfg.Queue.MaxDelay,
	}, cfg.Queue.BatchSize, cfg.Queue.Concurrency, log)

	scheduler := delivery.NewScheduler(engine, cfg.Queue.Interval, log)

	return queue.NewService(store, engine, scheduler, cfg.Queue.MaxAttempts, log)
}

func queueFromConfig(configPath string) (*queue.Service, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return buildQueue(cfg, store, log), cfg, func() { store.Close() }, nil
}
