// Command medtrack runs the pharmacy-network inventory API and its
// maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"medtrack/m/internal/api"
	"medtrack/m/internal/client"
	"medtrack/m/internal/config"
	"medtrack/m/internal/database"
	"medtrack/m/internal/heartbeat"
	"medtrack/m/internal/labels"
	"medtrack/m/internal/migrations"
	"medtrack/m/internal/notify"
	"medtrack/m/internal/seed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medtrack",
		Short:         "Medicine inventory for a hub-and-spoke hospital network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), seedCmd(), resetAdminCmd(), keepaliveCmd())
	return root
}

// openDatabase connects, migrates and seeds an empty database.
func openDatabase(cfg config.Config) (*sqlx.DB, error) {
	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := seed.LoadNetwork(db, cfg.SeedFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed network: %w", err)
	}
	n, err := seed.LoadDrugs(db, cfg.DrugCatalogue)
	if err != nil {
		log.Printf("drug catalogue %s not loaded: %v", cfg.DrugCatalogue, err)
	} else if n > 0 {
		log.Printf("loaded %d drugs from %s", n, cfg.DrugCatalogue)
	}
	if err := seed.SampleStock(db, time.Now()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed stock: %w", err)
	}
	return db, nil
}

func teeLog(path string) (io.Closer, error) {
	if path == "" {
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logFile, err := teeLog(cfg.LogFile)
			if err != nil {
				return err
			}
			defer logFile.Close()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			monitor := heartbeat.New(cfg.HeartbeatTimeout)
			handler := api.New(db, api.Options{
				Secret:         cfg.Secret,
				TokenTTL:       cfg.TokenTTL,
				AllowedOrigins: cfg.AllowedOrigins,
				Monitor:        monitor,
				Printer:        labels.Printer{},
				Notifier: notify.New(notify.Config{
					SMTPHost:      cfg.SMTPHost,
					SMTPPort:      cfg.SMTPPort,
					SMTPUser:      cfg.SMTPUser,
					SMTPPassword:  cfg.SMTPPassword,
					LowStockEmail: cfg.LowStockEmail,
					SMSFrom:       cfg.SMSFrom,
				}),
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go monitor.Run(ctx, func() {
				log.Printf("no heartbeat for %s, shutting down", cfg.HeartbeatTimeout)
				cancel()
			})

			srv := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("medtrack server starting on :%s", cfg.HTTPPort)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			log.Print("server stopped")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the schema and load the network, drug catalogue and demo stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(config.Load())
			if err != nil {
				return err
			}
			defer db.Close()
			v, err := migrations.Version(db)
			if err != nil {
				return err
			}
			log.Printf("database ready at schema version %d", v)
			return nil
		},
	}
}

func resetAdminCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-admin",
		Short: "Reset (or create) the bootstrap pharmacist account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.Connect(cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Run(db); err != nil {
				return err
			}
			if err := seed.ResetAdmin(db, password); err != nil {
				return err
			}
			log.Printf("account %q reset; a new password is required at next login", seed.AdminUsername)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", seed.AdminPassword, "temporary password for the admin account")
	return cmd
}

func keepaliveCmd() *cobra.Command {
	var (
		server   string
		username string
		password string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Log in and keep the server watchdog fed",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server, 10*time.Second)
			u, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			log.Printf("logged in as %s at %s", u.Username, u.LocationName)
			err = c.Keepalive(cmd.Context(), interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&username, "username", "", "account to log in with")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().DurationVar(&interval, "interval", client.HeartbeatInterval, "heartbeat interval")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
