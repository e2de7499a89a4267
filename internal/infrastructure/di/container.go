// Package di wires the application together. Manual constructor injection,
// initialized in dependency order: infrastructure, domain, application.
package di

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	storagegateway "github.com/hmiyata/weave/internal/adapter/gateway/storage"
	workergateway "github.com/hmiyata/weave/internal/adapter/gateway/worker"
	appconfig "github.com/hmiyata/weave/internal/app/config"
	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/application/service"
	executionuc "github.com/hmiyata/weave/internal/application/usecase/execution"
	"github.com/hmiyata/weave/internal/catalog"
	"github.com/hmiyata/weave/internal/domain/repository"
	"github.com/hmiyata/weave/internal/domain/service/cascade"
	gitvcs "github.com/hmiyata/weave/internal/infrastructure/vcs/git"
	sqliterepo "github.com/hmiyata/weave/internal/infrastructure/persistence/sqlite"
	"github.com/hmiyata/weave/internal/infrastructure/transaction"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds construction-time settings for the container
type Config struct {
	App appconfig.Config // loaded application configuration

	// EventSink receives structured events. Defaults to a nop sink.
	EventSink output.EventSink

	// RunnerType selects the agent runner: "command" (default) or "mock".
	RunnerType string

	// Logging callbacks, both optional.
	InfoLog func(format string, args ...interface{})
	WarnLog func(format string, args ...interface{})
}

// Container holds every long-lived collaborator
type Container struct {
	config Config

	db *sql.DB
	fs afero.Fs

	// Repositories
	execRepo     repository.ExecutionRepository
	workItemRepo repository.WorkItemRepository
	agentRepo    repository.AgentRepository
	mergeRepo    repository.MergeRepository
	resRepo      repository.ReservationRepository

	txManager output.TransactionManager

	// Gateways
	vcs      output.VCSGateway
	archives output.ArchiveGateway
	archiver *storagegateway.WorkspaceArchiveService

	// Catalog
	catalog *catalog.Catalog

	// Services
	reservations *service.ReservationService
	merges       *service.MergeCoordinator
	agents       *service.AgentManager
	orchestrator *service.Orchestrator

	// Use cases
	lifecycleUC *executionuc.LifecycleUseCase
	advanceUC   *executionuc.AdvanceUseCase
	unitUC      *executionuc.UnitUseCase
	gateUC      *executionuc.GateUseCase
}

// NewContainer builds and wires the container
func NewContainer(cfg Config) (*Container, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("application config is required")
	}
	if cfg.EventSink == nil {
		cfg.EventSink = output.NopSink{}
	}

	c := &Container{config: cfg, fs: afero.NewOsFs()}

	if err := c.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("initialize infrastructure: %w", err)
	}
	if err := c.initCatalog(); err != nil {
		return nil, fmt.Errorf("initialize catalog: %w", err)
	}
	if err := c.initApplication(); err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return c, nil
}

func (c *Container) initInfrastructure() error {
	app := c.config.App

	dbPath := app.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.db = db

	if err := sqliterepo.NewMigrator(db).Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	c.execRepo = sqliterepo.NewExecutionRepository(db)
	c.workItemRepo = sqliterepo.NewWorkItemRepository(db)
	c.agentRepo = sqliterepo.NewAgentRepository(db)
	c.mergeRepo = sqliterepo.NewMergeRepository(db)
	c.resRepo = sqliterepo.NewReservationRepository(db)
	c.txManager = transaction.NewSQLiteTransactionManager(db)

	vcs, err := gitvcs.NewGateway(app.RepoRoot())
	if err != nil {
		return fmt.Errorf("create vcs gateway: %w", err)
	}
	c.vcs = vcs

	switch app.ArchiveBackend() {
	case "", "local":
		archives, err := storagegateway.NewLocalArchiveGateway(c.fs, app.ArchiveDir())
		if err != nil {
			return fmt.Errorf("create local archive gateway: %w", err)
		}
		c.archives = archives
	case "s3":
		if app.ArchiveBucket() == "" {
			return fmt.Errorf("archive bucket is required for the s3 backend")
		}
		archives, err := storagegateway.NewS3ArchiveGateway(context.Background(), storagegateway.S3Config{
			Bucket: app.ArchiveBucket(),
			Prefix: app.ArchivePrefix(),
			Region: app.ArchiveRegion(),
		})
		if err != nil {
			return fmt.Errorf("create s3 archive gateway: %w", err)
		}
		c.archives = archives
	case "mock":
		c.archives = storagegateway.NewMockArchiveGateway()
	default:
		return fmt.Errorf("unknown archive backend: %s", app.ArchiveBackend())
	}

	c.archiver = storagegateway.NewWorkspaceArchiveService(c.fs, c.vcs, c.archives)
	return nil
}

func (c *Container) initCatalog() error {
	cat, err := catalog.Load(c.fs, c.config.App.CatalogPath())
	if err != nil {
		return err
	}
	c.catalog = cat
	return nil
}

func (c *Container) initApplication() error {
	app := c.config.App

	c.reservations = service.NewReservationService(
		c.resRepo,
		service.DefaultReservationServiceConfig(),
		c.config.WarnLog,
	)

	c.merges = service.NewMergeCoordinator(c.mergeRepo, c.vcs, c.config.EventSink)

	var runner service.AgentRunner
	switch c.config.RunnerType {
	case "", "command":
		runner = workergateway.NewCommandRunner(app.AgentBin(), app.Timeout())
	case "mock":
		runner = workergateway.NewMockRunner()
	default:
		return fmt.Errorf("unknown runner type: %s", c.config.RunnerType)
	}

	c.agents = service.NewAgentManager(
		c.agentRepo,
		c.execRepo,
		c.reservations,
		c.vcs,
		runner,
		service.AgentManagerConfig{
			Mode:           service.ConcurrencyMode(app.ConcurrencyMode()),
			MaxParallel:    app.MaxParallel(),
			Baseline:       app.Baseline(),
			ReservationTTL: app.ReservationTTL(),
		},
	)
	c.agents.SetArchiver(c.archiver)

	policy := cascade.DefaultPolicy()
	if app.RetryBudget() > 0 {
		policy.RetryBudget = app.RetryBudget()
	}
	if app.GlobalRetryCap() > 0 {
		policy.GlobalCap = app.GlobalRetryCap()
	}

	c.orchestrator = service.NewOrchestrator(
		c.workItemRepo,
		c.execRepo,
		c.agents,
		c.merges,
		c.catalog,
		policy,
		c.config.EventSink,
		c.config.InfoLog,
		c.config.WarnLog,
	)

	hook := workergateway.NewCommandVerificationHook(c.catalog.HookCommands(), app.Timeout())

	c.lifecycleUC = executionuc.NewLifecycleUseCase(c.execRepo, c.catalog, c.txManager, c.config.EventSink)
	c.lifecycleUC.SetAbortCleanup(c.agents, c.merges)
	c.advanceUC = executionuc.NewAdvanceUseCase(c.execRepo, hook, policy, c.txManager, c.config.EventSink)
	c.unitUC = executionuc.NewUnitUseCase(c.execRepo, c.txManager, c.config.EventSink)
	c.gateUC = executionuc.NewGateUseCase(c.execRepo, c.txManager, c.config.EventSink)
	return nil
}

// Start launches background services
func (c *Container) Start(ctx context.Context) error {
	if err := c.reservations.Start(ctx); err != nil {
		return fmt.Errorf("start reservation service: %w", err)
	}
	return nil
}

// Close stops background services and releases resources
func (c *Container) Close() error {
	if c.reservations != nil {
		c.reservations.Stop()
	}
	if c.agents != nil {
		done := make(chan struct{})
		go func() {
			c.agents.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			// Workers get cancelled via their contexts; do not hang shutdown.
		}
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Accessors

func (c *Container) ExecutionRepository() repository.ExecutionRepository { return c.execRepo }
func (c *Container) WorkItemRepository() repository.WorkItemRepository   { return c.workItemRepo }
func (c *Container) AgentRepository() repository.AgentRepository         { return c.agentRepo }
func (c *Container) MergeRepository() repository.MergeRepository         { return c.mergeRepo }

func (c *Container) VCSGateway() output.VCSGateway          { return c.vcs }
func (c *Container) ArchiveGateway() output.ArchiveGateway  { return c.archives }
func (c *Container) Catalog() *catalog.Catalog              { return c.catalog }
func (c *Container) TransactionManager() output.TransactionManager { return c.txManager }

func (c *Container) ReservationService() *service.ReservationService { return c.reservations }
func (c *Container) MergeCoordinator() *service.MergeCoordinator     { return c.merges }
func (c *Container) AgentManager() *service.AgentManager             { return c.agents }
func (c *Container) Orchestrator() *service.Orchestrator             { return c.orchestrator }

func (c *Container) LifecycleUseCase() *executionuc.LifecycleUseCase { return c.lifecycleUC }
func (c *Container) AdvanceUseCase() *executionuc.AdvanceUseCase     { return c.advanceUC }
func (c *Container) UnitUseCase() *executionuc.UnitUseCase           { return c.unitUC }
func (c *Container) GateUseCase() *executionuc.GateUseCase           { return c.gateUC }
