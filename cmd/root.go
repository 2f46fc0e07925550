package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the blur, detect and scan commands
type Options struct {
	InputPath    string
	OutputPath   string
	Strength     int
	NumEngines   int
	Quality      int
	DebugPath    string
	RedactDir    string
	Locator      string
	CascadePath  string
	RegionFlags  []string
	RegionsFile  string
	LocatorCmd   string
	MinFaceSize  int
	MaxFaceSize  int
	ShiftFactor  float64
	ScaleFactor  float64
	IouThreshold float64
	// DetectionThreshold is the minimum detector score kept.
	DetectionThreshold float64
	MaxDetectDim       int
	MaxFaces           int
}

var (
	// DB is the global database connection shared by subcommands that need it
	DB *store.Store
	// dbURL is the connection string
	dbURL   string
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

// needsDB marks a command whose PersistentPreRunE must open the store.
const needsDB = "needs-db"

var rootCmd = &cobra.Command{
	Use:     "veil",
	Short:   "Face anonymization for still images",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			utils.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		if !wantsDB(cmd) {
			return nil
		}
		return connectDB(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// wantsDB reports whether cmd declared it needs the store, either statically
// or because a flag (such as --locator store) asked for it at runtime.
func wantsDB(cmd *cobra.Command) bool {
	if cmd.Annotations[needsDB] == "true" {
		return true
	}
	if f := cmd.Flags().Lookup("locator"); f != nil && f.Value.String() == "store" {
		return true
	}
	return false
}

// resolveDBURL applies the --db flag, then POSTGRES_* variables, then the local default.
func resolveDBURL(flag string) string {
	if flag != "" {
		return flag
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
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/veil"
}

func connectDB(ctx context.Context) error {
	url := resolveDBURL(dbURL)
	utils.Logger().Debug("connecting to store", "host_from_env", os.Getenv("POSTGRES_HOST") != "")

	var err error
	// Use the command's context (which will be cancellable) for the connection
	DB, err = store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
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
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/veil)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print diagnostic logs to stderr")
}
