package app

import (
	"context"
	"fmt"

	creditssvc "github.com/R3E-Network/credit_layer/internal/app/services/credits"
	"github.com/R3E-Network/credit_layer/internal/app/storage"
	"github.com/R3E-Network/credit_layer/internal/app/storage/memory"
	"github.com/R3E-Network/credit_layer/internal/app/system"
	"github.com/R3E-Network/credit_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Credits   storage.CreditStore
	Directory storage.UserDirectory
}

// Application ties the credit service together and manages its lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Credits *creditssvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Credits == nil {
		stores.Credits = mem
	}
	if stores.Directory == nil {
		stores.Directory = mem
	}

	manager := system.NewManager()
	if err := manager.Register(system.NoopService{ServiceName: "credits"}); err != nil {
		return nil, fmt.Errorf("register credits service: %w", err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Credits: creditssvc.New(stores.Credits, stores.Directory, log),
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
