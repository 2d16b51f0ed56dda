package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/adapter"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/repository"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

// History backends
const (
	backendFile      = "file"
	backendGCS       = "gcs"
	backendFirestore = "firestore"
	backendRedis     = "redis"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Gemini
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	profileFile    string

	// History
	backend           string
	slot              string
	historyFile       string
	bucket            string
	firestoreProject  string
	firestoreDatabase string
	redisAddr         string
	redisPassword     string
	redisDB           int64
	credentialsFile   string
}

// globalFlags returns logging flags shared by every command
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("RULESMITH_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("RULESMITH_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for the generative model
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI, used when no API key is given",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model name",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "YAML file overriding generation parameters per flow",
			Sources:     cli.EnvVars("RULESMITH_PROFILE"),
			Destination: &cfg.profileFile,
		},
	}
}

// historyFlags returns flags selecting where history is kept
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "history-backend",
			Usage:       "History backend (file, gcs, firestore, redis)",
			Value:       backendFile,
			Sources:     cli.EnvVars("RULESMITH_HISTORY_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "history-slot",
			Usage:       "Name of the history slot",
			Value:       repository.DefaultSlot,
			Sources:     cli.EnvVars("RULESMITH_HISTORY_SLOT"),
			Destination: &cfg.slot,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "History file path for the file backend (default: user config directory)",
			Sources:     cli.EnvVars("RULESMITH_HISTORY_FILE"),
			Destination: &cfg.historyFile,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the gcs backend",
			Sources:     cli.EnvVars("RULESMITH_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for the firestore backend",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the redis backend",
			Value:       "localhost:6379",
			Sources:     cli.EnvVars("RULESMITH_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("RULESMITH_REDIS_PASSWORD"),
			Destination: &cfg.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("RULESMITH_REDIS_DB"),
			Destination: &cfg.redisDB,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Google Cloud credentials JSON file for the gcs and firestore backends",
			Sources:     cli.EnvVars("RULESMITH_CREDENTIALS"),
			Destination: &cfg.credentialsFile,
		},
	}
}

func commandFlags(cfg *config, withHistory bool) []cli.Flag {
	flags := globalFlags(cfg)
	flags = append(flags, llmFlags(cfg)...)
	if withHistory {
		flags = append(flags, historyFlags(cfg)...)
	}
	return flags
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(logging.Options{
		Level:  cfg.logLevel,
		Format: logging.Format(cfg.logFormat),
		Writer: os.Stderr,
	})
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	opts := []adapter.GeminiOption{adapter.WithGenerativeModel(cfg.geminiModel)}
	switch {
	case cfg.geminiAPIKey != "":
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	case cfg.geminiProject != "":
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
	default:
		return nil, goerr.New("gemini-api-key or gemini-project is required")
	}

	gemini, err := adapter.NewGemini(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newTransport creates the model transport with optional profile overrides
func (cfg *config) newTransport(ctx context.Context) (*llm.Transport, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	var opts []llm.Option
	if cfg.profileFile != "" {
		profiles, err := llm.LoadProfiles(cfg.profileFile)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load profiles", goerr.V("path", cfg.profileFile))
		}
		opts = append(opts, llm.WithProfiles(profiles))
	}
	return llm.New(gemini, opts...), nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentialsFile)}
}

// newSlot opens the history slot of the configured backend. The returned
// closer releases backend connections.
func (cfg *config) newSlot(ctx context.Context) (repository.Slot, func(), error) {
	noop := func() {}

	switch cfg.backend {
	case "", backendFile:
		path := cfg.historyFile
		if path == "" {
			p, err := repository.DefaultFilePath(cfg.slot)
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		return repository.NewFile(path), noop, nil

	case backendGCS:
		if cfg.bucket == "" {
			return nil, nil, goerr.New("bucket is required for gcs backend")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.clientOptions()...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage")
		}
		return repository.NewStorage(storage, cfg.slot), noop, nil

	case backendFirestore:
		if cfg.firestoreProject == "" {
			return nil, nil, goerr.New("firestore-project is required for firestore backend")
		}
		slot, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase, cfg.slot, cfg.clientOptions()...)
		if err != nil {
			return nil, nil, err
		}
		return slot, closer(ctx, slot.Close), nil

	case backendRedis:
		slot, err := repository.NewRedis(ctx, cfg.redisAddr, cfg.redisPassword, int(cfg.redisDB), cfg.slot)
		if err != nil {
			return nil, nil, err
		}
		return slot, closer(ctx, slot.Close), nil

	default:
		return nil, nil, goerr.New("unsupported history backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendFile, backendGCS, backendFirestore, backendRedis}))
	}
}

func closer(ctx context.Context, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logging.From(ctx).Warn("failed to close history backend", "error", err)
		}
	}
}

// newRuleUseCase wires the transport and the history store
func (cfg *config) newRuleUseCase(ctx context.Context, opts ...rule.Option) (*rule.UseCase, func(), error) {
	transport, err := cfg.newTransport(ctx)
	if err != nil {
		return nil, nil, err
	}

	slot, closeSlot, err := cfg.newSlot(ctx)
	if err != nil {
		return nil, nil, err
	}

	store := history.Load(ctx, slot)
	return rule.New(transport, store, opts...), closeSlot, nil
}

// newHistory opens the history store without a model client
func (cfg *config) newHistory(ctx context.Context) (*history.Store, func(), error) {
	slot, closeSlot, err := cfg.newSlot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return history.Load(ctx, slot), closeSlot, nil
}
