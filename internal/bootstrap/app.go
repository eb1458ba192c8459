// Package bootstrap wires configuration, storage, clients, services, and the
// HTTP router into one App shared by the api and worker entrypoints.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"compliance-backend/internal/assistant"
	openaiclient "compliance-backend/internal/assistant/openai"
	googleauth "compliance-backend/internal/auth"
	"compliance-backend/internal/checklists"
	"compliance-backend/internal/documents"
	"compliance-backend/internal/evaluations"
	"compliance-backend/internal/queue"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/services/health"
	"compliance-backend/internal/shared/config"
	"compliance-backend/internal/shared/server"
	"compliance-backend/internal/shared/storage/db"
	"compliance-backend/internal/shared/storage/object"
	localstore "compliance-backend/internal/shared/storage/object/local"
	s3store "compliance-backend/internal/shared/storage/object/s3"
	"compliance-backend/internal/users"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	DocumentsRepo   documents.Repo
	EvaluationsRepo evaluations.Repo
	UsersRepo       users.Repo
	Catalog         checklists.Catalog

	DocumentsService    *documents.Service
	EvaluationsService  *evaluations.Service
	EvaluationProcessor EvaluationProcessor
	UsersService        *users.Service
	HealthService       *health.Service

	DocumentsHandler  *documents.Handler
	EvaluationHandler *evaluations.Handler
	UsersHandler      *users.Handler
	GoogleAuth        *googleauth.GoogleService
}

// EvaluationProcessor allows callers to override evaluation processing for tests.
type EvaluationProcessor interface {
	ProcessEvaluation(ctx context.Context, evaluationID string) error
}

// Build prepares shared dependencies and the router.
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

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            app.Config,
		DocumentsHandler:  app.DocumentsHandler,
		EvaluationHandler: app.EvaluationHandler,
		UsersHandler:      app.UsersHandler,
		GoogleAuth:        app.GoogleAuth,
		Health:            app.HealthService,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			sqlDB.Close()
			return nil, nil
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	var docRepo documents.Repo
	var evalRepo evaluations.Repo
	var userRepo users.Repo

	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		evalRepo = &evaluations.PGRepo{DB: app.DB}
		userRepo = &users.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		evalRepo = evaluations.NewMemoryRepo()
		userRepo = users.NewMemoryRepo()
	}

	catalog := checklists.NewSeededCatalog()

	files, indexes, conversations, err := buildAssistantClients(app.Config)
	if err != nil {
		return err
	}

	docSvc := documents.NewService(docRepo, app.Store, files, indexes, app.Config.Ingestion, app.Config.Cleanup)

	orchestrator := &evaluations.Orchestrator{
		Conversations: conversations,
		Cfg:           app.Config.Evaluation,
		Retry:         &retry.Runner{},
	}

	evalSvc := evaluations.NewService(evalRepo, docRepo, catalog, orchestrator, app.Config.Evaluation)
	if app.Queue != nil {
		q := app.Queue
		now := docSvc.Now
		evalSvc.Enqueue = func(ctx context.Context, evaluationID, requestID string) error {
			msg := queue.Message{
				EvaluationID: evaluationID,
				RequestID:    requestID,
				Version:      1,
			}
			if now != nil {
				msg.EnqueuedAt = now().UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			return q.Send(ctx, msg)
		}
	}

	userSvc := users.NewService(userRepo)
	googleAuthSvc := googleauth.NewGoogleService(
		app.Config.GoogleClientID,
		app.Config.GoogleClientSecret,
		app.Config.GoogleRedirectURL,
		app.Config.UIRedirectURL,
		userSvc,
	)
	googleAuthSvc.OnSignIn = func(ctx context.Context) {
		if _, err := docSvc.SweepExpired(ctx); err != nil {
			log.Printf("bootstrap: sign-in cleanup sweep failed: %v", err)
		}
	}

	app.DocumentsRepo = docRepo
	app.EvaluationsRepo = evalRepo
	app.UsersRepo = userRepo
	app.Catalog = catalog
	app.DocumentsService = docSvc
	app.EvaluationsService = evalSvc
	app.EvaluationProcessor = evalSvc
	app.UsersService = userSvc
	app.HealthService = health.NewService(app.DB)
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.EvaluationHandler = evaluations.NewHandler(evalSvc, docSvc)
	app.UsersHandler = users.NewHandler(userSvc)
	app.GoogleAuth = googleAuthSvc

	if app.DocumentsHandler == nil || app.EvaluationHandler == nil {
		return errors.New("failed to initialize handlers")
	}

	return nil
}

func buildAssistantClients(cfg config.Config) (assistant.FileClient, assistant.IndexClient, assistant.ConversationClient, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		if !isDevLike(cfg.Env) {
			return nil, nil, nil, errors.New("OPENAI_API_KEY is required")
		}
		log.Printf("bootstrap: OPENAI_API_KEY empty; remote calls will fail until configured")
		p := placeholderAssistant{}
		return p, p, p, nil
	}

	client, err := openaiclient.NewClient(openaiclient.Config{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		AssistantID: cfg.OpenAIAssistantID,
		BaseURL:     cfg.OpenAIBaseURL,
		Timeout:     cfg.OpenAITimeout,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return client, client, client, nil
}

// placeholderAssistant fails every call; it lets dev environments boot
// without credentials.
type placeholderAssistant struct{}

var errAssistantNotConfigured = errors.New("assistant backend not configured")

func (placeholderAssistant) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	return "", errAssistantNotConfigured
}

func (placeholderAssistant) DeleteFile(ctx context.Context, fileID string) error {
	return errAssistantNotConfigured
}

func (placeholderAssistant) GetFile(ctx context.Context, fileID string) (assistant.FileDetails, error) {
	return assistant.FileDetails{}, errAssistantNotConfigured
}

func (placeholderAssistant) CreateIndex(ctx context.Context, name string, expiresAfterDays int) (string, error) {
	return "", errAssistantNotConfigured
}

func (placeholderAssistant) AttachFile(ctx context.Context, indexID, fileID string) error {
	return errAssistantNotConfigured
}

func (placeholderAssistant) GetIndexStatus(ctx context.Context, indexID string) (assistant.IndexStatus, error) {
	return assistant.IndexStatus{}, errAssistantNotConfigured
}

func (placeholderAssistant) DeleteIndex(ctx context.Context, indexID string) error {
	return errAssistantNotConfigured
}

func (placeholderAssistant) CreateConversation(ctx context.Context, indexIDs []string) (string, error) {
	return "", errAssistantNotConfigured
}

func (placeholderAssistant) PostMessage(ctx context.Context, conversationID, content string) (string, error) {
	return "", errAssistantNotConfigured
}

func (placeholderAssistant) StartRun(ctx context.Context, conversationID string) (string, error) {
	return "", errAssistantNotConfigured
}

func (placeholderAssistant) GetRun(ctx context.Context, conversationID, runID string) (assistant.RunState, error) {
	return assistant.RunState{}, errAssistantNotConfigured
}

func (placeholderAssistant) SubmitToolOutputs(ctx context.Context, conversationID, runID string, callIDs []string) error {
	return errAssistantNotConfigured
}

func (placeholderAssistant) ListMessages(ctx context.Context, conversationID string, limit int) ([]assistant.Message, error) {
	return nil, errAssistantNotConfigured
}
