package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/littleci/littleci/internal/cli"
	"github.com/littleci/littleci/internal/config"
	"github.com/littleci/littleci/internal/logstore"
	"github.com/littleci/littleci/internal/queue"
	"github.com/littleci/littleci/internal/server"
	"github.com/littleci/littleci/internal/storage"
	"github.com/littleci/littleci/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:     "littleci",
		Short:   "The littlest CI",
		Version: version.Version,
	}

	rootCmd.AddCommand(
		serveCmd(),
		setPasswordCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch littleci's HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "Path to config file (default: current directory)")
	cmd.Flags().Bool("debug", false, "Enable debug logging")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	log := newLogger(debug)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log.Info("initializing storage", "path", cfg.DatabasePath())
	store, err := storage.NewSQLite(cfg.DatabasePath(), log)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	logs, err := logstore.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("initialize log store: %w", err)
	}

	hub := server.NewStreamHub(logs, log)
	manager := queue.NewManager(store, logs, nil, nil, hub, log)

	// Workers for every repository go up before the listener so jobs
	// left queued by the previous run start draining.
	if err := manager.Boot(context.Background()); err != nil {
		return fmt.Errorf("boot queues: %w", err)
	}

	api := server.New(cfg, store, manager, logs, hub, log)
	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: api.Router(),
	}

	// First signal drains gracefully, a second one forces the exit.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "site_url", cfg.SiteURL, "authentication", cfg.AuthenticationType)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-sigs:
		log.Info("gracefully shutting down queues")
		go func() {
			<-sigs
			log.Warn("forcing shut down")
			os.Exit(1)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		manager.Shutdown()
	}

	return nil
}

func setPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Set an operator's password, creating the account if needed",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetPassword,
	}
	cmd.Flags().String("config", "", "Path to config file (default: current directory)")
	return cmd
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	username := args[0]

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	password, err := cli.PromptNewPassword(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(cfg.DatabasePath(), newLogger(false))
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	created, err := cli.SetPassword(cmd.Context(), store, username, password)
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("Created user %s\n", username)
	} else {
		fmt.Printf("Updated password for %s\n", username)
	}
	return nil
}

// loadConfig resolves the runtime configuration from the given path,
// falling back to the working directory.
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		path = wd
	}

	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return file.Resolve()
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
