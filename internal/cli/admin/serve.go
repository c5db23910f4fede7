package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/surpriz/queenmama/internal/api/handlers"
	"github.com/surpriz/queenmama/internal/config"
	"github.com/surpriz/queenmama/internal/database"
	"github.com/surpriz/queenmama/internal/openai"
	"github.com/surpriz/queenmama/internal/repository"
	"github.com/surpriz/queenmama/internal/server"
	"github.com/surpriz/queenmama/internal/service"
	"github.com/surpriz/queenmama/internal/storage"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the queenmama knowledge API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	services, err := buildServices(ctx, cfg, pool)
	if err != nil {
		return err
	}

	atomHandler := handlers.NewAtomHandler(services.Atoms, services.Capacity)
	maintenanceHandler := handlers.NewMaintenanceHandler(
		services.Extraction,
		services.Purge,
		services.Consolidation,
		services.Stats,
		services.Maintenance,
	)

	router := server.NewRouter(server.RouterConfig{
		ServiceToken:       cfg.ServiceToken,
		AtomHandler:        atomHandler,
		MaintenanceHandler: maintenanceHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// serviceSet bundles the wired services shared by serve and maintain.
type serviceSet struct {
	Atoms         *service.AtomService
	Capacity      *service.CapacityService
	Purge         *service.PurgeService
	Consolidation *service.ConsolidationService
	Stats         *service.StatsService
	Maintenance   *service.MaintenanceService
	Extraction    *service.ExtractionService
}

func buildServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*serviceSet, error) {
	policy := policyFromConfig(cfg)
	repo := repository.NewAtomRepository(pool)
	locks := service.NewUserLocks()

	var embeddingClient service.EmbeddingClient
	var completionClient service.CompletionClient
	if cfg.HasOpenAI() {
		client := openai.NewClient(cfg.OpenAIAPIKey)
		embeddingClient = client
		completionClient = client
	} else {
		log.Println("OPENAI_API_KEY not set: extraction and manual atom creation disabled")
		embeddingClient = &unconfiguredOpenAI{}
		completionClient = &unconfiguredOpenAI{}
	}

	var transcripts service.TranscriptStore = &unconfiguredTranscriptStore{}
	if cfg.HasTranscriptStore() {
		store, err := storage.NewTranscriptStore(ctx, storage.TranscriptStoreConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.TranscriptBucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transcript store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure transcript bucket: %w", err)
		}
		log.Printf("transcript bucket '%s' ready", cfg.TranscriptBucket)
		transcripts = store
	}

	purgeSvc := service.NewPurgeService(repo, policy)
	capacitySvc := service.NewCapacityService(repo, purgeSvc, policy)
	consolidationSvc := service.NewConsolidationService(repo, policy)
	statsSvc := service.NewStatsService(repo, purgeSvc, policy)
	maintenanceSvc := service.NewMaintenanceService(repo, purgeSvc, consolidationSvc, locks)
	atomSvc := service.NewAtomService(repo, embeddingClient, capacitySvc, policy, locks)
	extractionSvc := service.NewExtractionService(repo, completionClient, embeddingClient, transcripts, capacitySvc, policy, locks)

	return &serviceSet{
		Atoms:         atomSvc,
		Capacity:      capacitySvc,
		Purge:         purgeSvc,
		Consolidation: consolidationSvc,
		Stats:         statsSvc,
		Maintenance:   maintenanceSvc,
		Extraction:    extractionSvc,
	}, nil
}

func policyFromConfig(cfg *config.Config) service.Policy {
	policy := service.DefaultPolicy()
	policy.MaxAtomsPerUser = cfg.MaxAtomsPerUser
	policy.MinConfidence = cfg.MinConfidence
	policy.MinTranscriptChars = cfg.MinTranscriptChars
	policy.TranscriptTailChars = cfg.TranscriptTailChars
	policy.SimilarityThreshold = cfg.SimilarityThreshold
	policy.LowQualityMinUsage = cfg.LowQualityMinUsage
	policy.LowQualityMaxRatio = cfg.LowQualityMaxRatio
	policy.StaleAfter = time.Duration(cfg.StaleAfterDays) * 24 * time.Hour
	policy.CompletionTimeout = cfg.CompletionTimeout()
	policy.EmbeddingTimeout = cfg.EmbeddingTimeout()
	return policy
}

type unconfiguredOpenAI struct{}

func (c *unconfiguredOpenAI) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding provider not configured: OPENAI_API_KEY required")
}

func (c *unconfiguredOpenAI) GenerateCompletion(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("completion provider not configured: OPENAI_API_KEY required")
}

type unconfiguredTranscriptStore struct{}

func (s *unconfiguredTranscriptStore) GetTranscript(ctx context.Context, sessionID string) (string, error) {
	return "", fmt.Errorf("transcript store not configured: S3_ENDPOINT required")
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
