package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/api"
	"github.com/BTreeMap/UssdPipe/internal/lockfile"
	"github.com/BTreeMap/UssdPipe/internal/session"
	"github.com/BTreeMap/UssdPipe/internal/store"
	"github.com/BTreeMap/UssdPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for UssdPipe state data
	DefaultStateDir = "/var/lib/ussdpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "ussdpipe.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.Debug)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// One instance per state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	sessionOpts := buildSessionOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping UssdPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "session", len(sessionOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, sessionOpts, apiOpts); err != nil {
		slog.Error("UssdPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("UssdPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	APIAddr          string
	RedisAddr        string
	SessionTTLSecs   string
	ReminderSchedule string
	Debug            bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	redisAddr        *string
	sessionTTL       *int
	reminderSchedule *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("USSDPIPE_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		SessionTTLSecs:   os.Getenv("SESSION_TTL_SECONDS"),
		ReminderSchedule: os.Getenv("REMINDER_SCHEDULE"),
		Debug:            util.ParseBoolEnv("USSDPIPE_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No USSDPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("USSDPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"USSDPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"REDIS_ADDR", config.RedisAddr,
		"SESSION_TTL_SECONDS", config.SessionTTLSecs)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	defaultTTL := 0
	if config.SessionTTLSecs != "" {
		if parsed, err := strconv.Atoi(config.SessionTTLSecs); err == nil && parsed > 0 {
			defaultTTL = parsed
		} else {
			slog.Warn("Invalid SESSION_TTL_SECONDS, ignoring", "value", config.SessionTTLSecs)
		}
	}

	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for UssdPipe data (overrides $USSDPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN for the borrower store (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		redisAddr:        flag.String("redis-addr", config.RedisAddr, "Redis address for session storage (overrides $REDIS_ADDR)"),
		sessionTTL:       flag.Int("session-ttl", defaultTTL, "session inactivity timeout in seconds (overrides $SESSION_TTL_SECONDS)"),
		reminderSchedule: flag.String("reminder-schedule", config.ReminderSchedule, "cron expression for repayment reminder SMS, empty disables (overrides $REMINDER_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"redisAddr", *flags.redisAddr,
		"sessionTTL", *flags.sessionTTL)

	// A state directory without a DSN means SQLite in that directory.
	if *flags.dbDSN == "" && *flags.stateDir != "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	return flags
}

// buildStoreOptions constructs borrower store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSessionOptions constructs session store configuration options
func buildSessionOptions(flags Flags) []session.Option {
	var sessionOpts []session.Option
	if *flags.redisAddr != "" {
		sessionOpts = append(sessionOpts, session.WithRedisAddr(*flags.redisAddr))
	}
	if *flags.sessionTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithTTL(time.Duration(*flags.sessionTTL)*time.Second))
	}
	return sessionOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.reminderSchedule != "" {
		apiOpts = append(apiOpts, api.WithReminderSchedule(*flags.reminderSchedule))
	}
	return apiOpts
}
