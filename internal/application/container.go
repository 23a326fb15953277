package application

import (
	"fmt"

	"go.uber.org/zap"

	auditapp "github.com/khanhnv2901/lineaudit/internal/application/audit"
	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/checker"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/connection"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/inventory"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/lineaudit/internal/metrics"
)

// Config is the typed configuration the CLI hands to the container.
type Config struct {
	ResultsDir    string
	InventoryPath string
	Connection    connection.Config
	Audit         auditapp.Options
}

// Container holds all application services and repositories
// This is a simple dependency injection container
type Container struct {
	// Adapters
	Inventory   *inventory.File
	Connections *connection.Manager
	Reports     *json.ReportRepository
	Metrics     *metrics.Recorder

	// Services
	Tracker      *progress.Tracker
	Orchestrator *auditapp.Orchestrator
}

// NewContainer creates a new application service container. A nil logger
// disables logging.
func NewContainer(cfg Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reports, err := json.NewReportRepository(cfg.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create report repository: %w", err)
	}

	inv := inventory.NewFile(cfg.InventoryPath, cfg.Audit.Credentials)
	connections := connection.NewManager(cfg.Connection, logger.Named("connection"))
	recorder := metrics.NewRecorder()
	tracker := progress.NewTracker()

	orchestrator := auditapp.NewOrchestrator(auditapp.Dependencies{
		Inventory:   inv,
		Connections: connections,
		Analyzer:    checker.TelnetExposureAnalyzer{},
		Sink:        reports,
		Tracker:     tracker,
		Observer:    recorder,
		Logger:      logger.Named("audit"),
	}, cfg.Audit)

	return &Container{
		Inventory:    inv,
		Connections:  connections,
		Reports:      reports,
		Metrics:      recorder,
		Tracker:      tracker,
		Orchestrator: orchestrator,
	}, nil
}
