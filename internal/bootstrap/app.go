package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	"breva-backend/internal/analyses"
	googleauth "breva-backend/internal/auth"
	"breva-backend/internal/captures"
	"breva-backend/internal/dashboard"
	"breva-backend/internal/estimator"
	"breva-backend/internal/measurements"
	"breva-backend/internal/queue"
	"breva-backend/internal/shared/config"
	"breva-backend/internal/shared/server"
	"breva-backend/internal/shared/storage/db"
	"breva-backend/internal/shared/storage/object"
	localstore "breva-backend/internal/shared/storage/object/local"
	miniostore "breva-backend/internal/shared/storage/object/minio"
	s3store "breva-backend/internal/shared/storage/object/s3"
	"breva-backend/internal/uploads"
	"breva-backend/internal/users"
)

const defaultAWSRegion = "us-east-1"

// App holds shared dependencies and the wired router.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.Store
	Queue  queue.Client

	UsersRepo        users.Repo
	MeasurementsRepo measurements.Repo
	AnalysesRepo     analyses.Repo
	CapturesRepo     captures.Repo

	UsersService        *users.Service
	MeasurementsService *measurements.Service
	CapturesService     *captures.Service
	DashboardService    *dashboard.Service

	Estimator *estimator.Client
	Poller    *captures.Poller
	// Scheduler is the queue scheduler when CAPTURE_QUEUE_URL is set, the in-process one otherwise.
	Scheduler captures.Scheduler
	InProcess *captures.InProcessScheduler
	Sweeper   *captures.Sweeper

	CaptureHandler     *captures.Handler
	MeasurementHandler *measurements.Handler
	UsersHandler       *users.Handler
	DashboardHandler   *dashboard.Handler
	UploadHandler      *uploads.Handler
	GoogleAuth         *googleauth.GoogleService
	Credentials        *googleauth.CredentialsHandler

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Build prepares dependencies and the router. Background pollers started by the
// app live until Close.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	est, err := estimator.NewClient(cfg.EstimatorEnqueueURL, cfg.EstimatorStatusURL, cfg.EstimatorAPIKey, cfg.EstimatorTimeout)
	if err != nil {
		return nil, fmt.Errorf("estimator client: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		DB:        sqlDB,
		Store:     store,
		Queue:     queueClient,
		Estimator: est,
		cancel:    cancel,
	}

	buildServices(base, app)

	if err := buildUploads(ctx, app); err != nil {
		cancel()
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:             app.Config,
		CaptureHandler:     app.CaptureHandler,
		MeasurementHandler: app.MeasurementHandler,
		UserHandler:        app.UsersHandler,
		DashboardHandler:   app.DashboardHandler,
		UploadHandler:      app.UploadHandler,
		GoogleAuth:         app.GoogleAuth,
		Credentials:        app.Credentials,
	})

	return app, nil
}

// Close stops in-process pollers and waits for them to return.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.InProcess != nil {
			a.InProcess.Wait()
		}
	})
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.RoleFor(db.Role(cfg.ProcessRole)))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			_ = sqlDB.Close()
			return nil, nil
		}
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, awsRegion(cfg), cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.CaptureQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, awsRegion(cfg), cfg.CaptureQueueURL)
}

func buildUploads(ctx context.Context, app *App) error {
	bucket := strings.TrimSpace(app.Config.UploadsBucket)
	if bucket == "" {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsRegion(app.Config)))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	presign := s3.NewPresignClient(s3.NewFromConfig(awsCfg))
	app.UploadHandler = uploads.NewHandler(presign, bucket, app.Config.UploadsPrefix, app.MeasurementsService)
	return nil
}

func buildServices(base context.Context, app *App) {
	var (
		userRepo        users.Repo
		measurementRepo measurements.Repo
		analysisRepo    analyses.Repo
		captureRepo     captures.Repo
		stats           dashboard.StatsSource
		onDelete        []func(ctx context.Context, measurementID string) error
	)

	if app.DB != nil {
		userRepo = &users.PGRepo{DB: app.DB}
		measurementRepo = &measurements.PGRepo{DB: app.DB}
		analysisRepo = &analyses.PGRepo{DB: app.DB}
		captureRepo = &captures.PGRepo{DB: app.DB}
		stats = dashboard.NewPGSource(app.DB)
	} else {
		memAnalyses := analyses.NewMemoryRepo()
		memMeasurements := measurements.NewMemoryRepo(memAnalyses)
		memCaptures := captures.NewMemoryRepo(memAnalyses)
		userRepo = users.NewMemoryRepo()
		measurementRepo = memMeasurements
		analysisRepo = memAnalyses
		captureRepo = memCaptures
		stats = dashboard.NewMemorySource(memMeasurements, memAnalyses, memCaptures)
		// No foreign keys in memory: cascade by hand.
		onDelete = append(onDelete, memAnalyses.DeleteByMeasurement, memCaptures.DeleteByMeasurement)
	}

	cfg := app.Config
	userSvc := users.NewService(userRepo)
	measurementSvc := &measurements.Service{
		Repo:     measurementRepo,
		Analyses: analysisRepo,
		OnDelete: onDelete,
	}

	poller := &captures.Poller{
		Repo:        captureRepo,
		Estimator:   app.Estimator,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	}

	var scheduler captures.Scheduler
	if app.Queue != nil {
		scheduler = &captures.QueueScheduler{Client: app.Queue, Delay: cfg.PollInterval}
	} else {
		inProcess := captures.NewInProcessScheduler(base, poller)
		app.InProcess = inProcess
		scheduler = inProcess
	}

	captureSvc := &captures.Service{
		Repo:         captureRepo,
		Measurements: measurementSvc,
		Estimator:    app.Estimator,
		Scheduler:    scheduler,
		Archive:      app.Store,
		PollInterval: cfg.PollInterval,
	}

	app.UsersRepo = userRepo
	app.MeasurementsRepo = measurementRepo
	app.AnalysesRepo = analysisRepo
	app.CapturesRepo = captureRepo
	app.UsersService = userSvc
	app.MeasurementsService = measurementSvc
	app.CapturesService = captureSvc
	app.DashboardService = dashboard.NewService(stats, userSvc)
	app.Poller = poller
	app.Scheduler = scheduler
	app.Sweeper = &captures.Sweeper{
		Repo:      captureRepo,
		Scheduler: scheduler,
		Interval:  cfg.SweepInterval,
		Grace:     sweepGrace(cfg, app.Queue != nil),
		Lease:     2 * cfg.PollInterval,
	}

	app.CaptureHandler = captures.NewHandler(captureSvc, cfg.MaxCaptureBodyBytes)
	app.MeasurementHandler = measurements.NewHandler(measurementSvc)
	app.UsersHandler = users.NewHandler(userSvc)
	app.DashboardHandler = dashboard.NewHandler(app.DashboardService)
	app.Credentials = googleauth.NewCredentialsHandler(userSvc)
	app.GoogleAuth = googleauth.NewGoogleService(googleauth.GoogleOptions{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		UIRedirect:   cfg.UIRedirectURL,
		AppRedirect:  cfg.AppRedirectURL,
	}, userSvc)
}

// sweepGrace is how long past its lease a capture may go untouched before the
// sweeper resumes it. In queue mode a healthy job can sit invisible for the whole
// visibility timeout while its tick waits on the estimator, so the grace covers both.
func sweepGrace(cfg config.Config, queued bool) time.Duration {
	grace := 2 * cfg.PollInterval
	if !queued {
		return grace
	}
	return max(grace, cfg.CaptureVisibility+cfg.EstimatorTimeout+cfg.PollInterval)
}

func awsRegion(cfg config.Config) string {
	if r := strings.TrimSpace(cfg.AWSRegion); r != "" {
		return r
	}
	return defaultAWSRegion
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
