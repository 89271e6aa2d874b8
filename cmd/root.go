package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Logger is built from Cfg.Log once flags are parsed
	Logger *slog.Logger

	cfgFile  string
	logLevel string
	// dbURL is the connection string
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Face recognition attendance from a camera or video stream",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			if _, err := config.ParseLevel(logLevel); err != nil {
				return err
			}
			cfg.Log.Level = logLevel
		}
		Cfg = cfg
		Logger = config.NewLogger(cfg.Log, os.Stderr)
		slog.SetDefault(Logger)
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: attendance.database_url or POSTGRES_* env)")
}

// loadDotEnv reads .env from the working directory if there is one.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to read .env: %v\n", err)
	}
}

// resolveDBURL picks the connection string from the --db flag, the config,
// or the POSTGRES_* environment, in that order. It returns "" when none is set.
func resolveDBURL(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg != nil && cfg.Attendance.DatabaseURL != "" {
		return cfg.Attendance.DatabaseURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
}

// defaultDBURL is used by commands that cannot work without a database.
const defaultDBURL = "postgres://localhost:5432/rollcall"

// openStore connects to the configured database. When required is false and
// nothing is configured it returns a nil store.
func openStore(ctx context.Context, cfg *config.Config, required bool) (*store.Store, error) {
	url := resolveDBURL(dbURL, cfg)
	if url == "" {
		if !required {
			return nil, nil
		}
		url = defaultDBURL
	}
	s, err := store.New(ctx, url, cfg.Enrollment.Dim)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return s, nil
}

// closeStore uses Background because the main context might be cancelled already
// (due to Ctrl+C) and we still need to send the "Close" command to the DB.
func closeStore(s *store.Store) {
	if s != nil {
		s.Close(context.Background())
	}
}
