package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/api"
	"github.com/CivicStack/GrievanceFlow/internal/flow"
	"github.com/CivicStack/GrievanceFlow/internal/genai"
	"github.com/CivicStack/GrievanceFlow/internal/lockfile"
	"github.com/CivicStack/GrievanceFlow/internal/store"
	"github.com/CivicStack/GrievanceFlow/internal/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GrievanceFlow state data
	DefaultStateDir = "/var/lib/grievanceflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "grievanceflow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping GrievanceFlow with configured modules")

	// file-based storage gets an exclusive lock on its state directory
	if *flags.dbDriver != "memory" && store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release state directory lock", "error", err)
			}
		}()
	}

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Warn("Failed to close record store", "error", cerr)
		}
	}()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	responder := flow.NewKnowledgeResponder(st, genaiClient)
	engine := flow.NewConversationFlow(st, genaiClient, responder)

	server := api.NewServer(st, engine, buildAPIOptions(flags)...)
	if err := server.Run(); err != nil {
		slog.Error("GrievanceFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GrievanceFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver         string
	DatabaseDSN      string
	StateDir         string
	OpenAIKey        string
	APIAddr          string
	RedisAddr        string
	SweepSchedule    string
	SessionMaxAgeHrs int
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDriver         *string
	dbDSN            *string
	openaiKey        *string
	apiAddr          *string
	redisAddr        *string
	sweepSchedule    *string
	sessionMaxAgeHrs *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DbDriver:         os.Getenv("DB_DRIVER"),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
		StateDir:         os.Getenv("GRIEVANCEFLOW_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		SweepSchedule:    os.Getenv("SWEEP_SCHEDULE"),
		SessionMaxAgeHrs: util.ParseIntEnv("SESSION_MAX_AGE_HOURS", 24),
	}

	// DATABASE_URL is accepted as a legacy alias for DATABASE_DSN
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
		if config.DatabaseDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GRIEVANCEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("GRIEVANCEFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" && config.DbDriver != "memory" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"DB_DRIVER", config.DbDriver,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"GRIEVANCEFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"REDIS_ADDR", config.RedisAddr,
		"SWEEP_SCHEDULE", config.SweepSchedule,
		"SESSION_MAX_AGE_HOURS", config.SessionMaxAgeHrs)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for GrievanceFlow data (overrides $GRIEVANCEFLOW_STATE_DIR)"),
		dbDriver:         flag.String("db-driver", config.DbDriver, "database driver: sqlite, postgres, or memory (overrides $DB_DRIVER)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseDSN, "database DSN for the record store (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		redisAddr:        flag.String("redis-addr", config.RedisAddr, "Redis address for session caching, empty disables the cache (overrides $REDIS_ADDR)"),
		sweepSchedule:    flag.String("sweep-schedule", config.SweepSchedule, "cron schedule for the session sweep (overrides $SWEEP_SCHEDULE)"),
		sessionMaxAgeHrs: flag.Int("session-max-age-hours", config.SessionMaxAgeHrs, "hours of inactivity before a session is swept (overrides $SESSION_MAX_AGE_HOURS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"redisAddr", *flags.redisAddr,
		"sweepSchedule", *flags.sweepSchedule,
		"sessionMaxAgeHrs", *flags.sessionMaxAgeHrs)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore constructs the record store backend selected by flags, wrapping
// it with the Redis session cache when a Redis address is configured.
func buildStore(flags Flags) (store.Store, error) {
	var base store.Store
	var err error

	switch {
	case *flags.dbDriver == "memory":
		slog.Debug("Using in-memory record store")
		base = store.NewInMemoryStore()
	case *flags.dbDriver == "postgres" || store.DetectDSNType(*flags.dbDSN) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", *flags.dbDSN != "")
		base, err = store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		base, err = store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
	if err != nil {
		return nil, err
	}

	if *flags.redisAddr == "" {
		return base, nil
	}

	slog.Debug("Enabling Redis session cache", "redis_addr", *flags.redisAddr)
	client := redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
	sessions := store.NewRedisSessions(client, time.Duration(*flags.sessionMaxAgeHrs)*time.Hour)
	cached, err := store.NewStoreWithSessionCache(base, sessions)
	if err != nil {
		if cerr := base.Close(); cerr != nil {
			slog.Warn("Failed to close base store after cache setup failure", "error", cerr)
		}
		return nil, err
	}
	return cached, nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.sweepSchedule != "" {
		apiOpts = append(apiOpts, api.WithSweepSchedule(*flags.sweepSchedule))
	}
	if *flags.sessionMaxAgeHrs > 0 {
		apiOpts = append(apiOpts, api.WithSessionMaxAge(time.Duration(*flags.sessionMaxAgeHrs)*time.Hour))
	}
	return apiOpts
}
