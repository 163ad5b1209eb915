package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/config"
	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/events"
	v1 "github.com/metapharm/rxgate/internal/handler/v1"
	"github.com/metapharm/rxgate/internal/provider"
	"github.com/metapharm/rxgate/internal/repository"
	"github.com/metapharm/rxgate/internal/service"
	"github.com/metapharm/rxgate/pkg/auth"
	"github.com/metapharm/rxgate/pkg/database"
	"github.com/metapharm/rxgate/pkg/logger"
	"github.com/metapharm/rxgate/pkg/metrics"
	"github.com/metapharm/rxgate/pkg/tracer"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxgate",
		Short: "Prescription validation and approval workflow service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create schemas, tables, and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}
			return database.Migrate(db, log)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue prescriptions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}

			collector := metrics.NewCollector(cfg.App.Name)
			prescriptionRepo := repository.NewPrescriptionRepository(db, collector)
			auditRepo := repository.NewAuditRepository(db, collector)
			auditSvc := service.NewAuditService(auditRepo, log, collector)

			publisher, err := buildPublisher(cfg, log, collector)
			if err != nil {
				return err
			}

			review := service.NewReviewService(prescriptionRepo, auditSvc, publisher, collector, log, cfg.Workflow.LowConfidenceThreshold)

			expired, err := review.ExpireDue(context.Background(), time.Now().UTC())
			auditSvc.Shutdown()
			if cerr := publisher.Close(); cerr != nil {
				log.Warn("closing event publisher", zap.Error(cerr))
			}
			if err != nil {
				return err
			}

			log.Info("sweep finished", zap.Int("expired", expired))
			return nil
		},
	}
}

// tokenCmd issues a development token signed with the configured secret.
// Production tokens come from the platform identity service.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			userFlag, _ := cmd.Flags().GetString("user")
			roleFlag, _ := cmd.Flags().GetString("role")

			userID := uuid.New()
			if userFlag != "" {
				parsed, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				userID = parsed
			}
			role := domain.Role(roleFlag)
			if !role.IsValid() {
				return fmt.Errorf("invalid --role %q", roleFlag)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			token, expiresAt, err := auth.NewJWTManager(cfg.JWT).Generate(&domain.Claims{UserID: userID, Role: role})
			if err != nil {
				return err
			}

			fmt.Printf("user:    %s\nrole:    %s\nexpires: %s\n\n%s\n", userID, role, expiresAt.Format(time.RFC3339), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Subject user id (default: random)")
	cmd.Flags().String("role", "pharmacist", "Role claim: admin, pharmacist, doctor, patient, or system")
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	collector := metrics.NewCollector(cfg.App.Name)

	prescriptionRepo := repository.NewPrescriptionRepository(db, collector)
	patientRepo := repository.NewPatientRepository(db, collector)
	auditRepo := repository.NewAuditRepository(db, collector)

	publisher, err := buildPublisher(cfg, log, collector)
	if err != nil {
		return err
	}

	ocr := provider.NewOCRClient(providerOptions(cfg.Providers.OCR), log)
	interactions := provider.NewInteractionClient(providerOptions(cfg.Providers.Interaction), log)
	allergies := provider.NewAllergyClient(providerOptions(cfg.Providers.Allergy), log)
	contraindications := provider.NewContraindicationClient(providerOptions(cfg.Providers.Contraindication), log)

	auditSvc := service.NewAuditService(auditRepo, log, collector)
	intakeSvc := service.NewIntakeService(prescriptionRepo, patientRepo, auditSvc, collector, log)
	evaluationSvc := service.NewEvaluationService(prescriptionRepo, patientRepo, ocr, interactions, allergies, contraindications, auditSvc, collector, log)
	reviewSvc := service.NewReviewService(prescriptionRepo, auditSvc, publisher, collector, log, cfg.Workflow.LowConfidenceThreshold)

	jwtManager := auth.NewJWTManager(cfg.JWT)
	handler := v1.NewPrescriptionHandler(intakeSvc, evaluationSvc, reviewSvc)
	router := v1.NewRouter(handler, jwtManager, collector, log, cfg)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	sweeperDone := make(chan struct{})
	go runSweeper(workerCtx, reviewSvc, cfg.Workflow.ExpirySweepInterval, log, sweeperDone)
	go watchDBStats(workerCtx, sqlDB, collector)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", zap.Error(err))
	}

	stopWorkers()
	<-sweeperDone
	auditSvc.Shutdown()
	if err := publisher.Close(); err != nil {
		log.Warn("closing event publisher", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutting down tracer", zap.Error(err))
	}

	return nil
}

func buildPublisher(cfg *config.Config, log *zap.Logger, collector *metrics.Collector) (events.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return events.NoopPublisher{}, nil
	}
	return events.NewKafkaPublisher(events.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: cfg.Kafka.ClientID,
		SASL: events.SASLConfig{
			Enabled:   cfg.Kafka.SASLEnabled,
			Mechanism: cfg.Kafka.SASLMechanism,
			Username:  cfg.Kafka.SASLUsername,
			Password:  cfg.Kafka.SASLPassword,
		},
	}, log, collector)
}

func providerOptions(cfg config.ProviderConfig) provider.Options {
	return provider.Options{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Timeout:         cfg.Timeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}

// runSweeper expires overdue prescriptions on a fixed interval. The sweep
// subcommand runs the same pass once for cron-style deployments.
func runSweeper(ctx context.Context, review *service.ReviewService, interval time.Duration, log *zap.Logger, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := review.ExpireDue(ctx, time.Now().UTC()); err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func watchDBStats(ctx context.Context, db *sql.DB, collector *metrics.Collector) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.DBConnections.Set(float64(db.Stats().OpenConnections))
		}
	}
}
