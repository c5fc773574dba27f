package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/simtelemetry/internal/controllers/api"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"go.uber.org/zap"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// ControllerDeps are the collaborators controllers serve from.
type ControllerDeps struct {
	Telemetry api.Telemetry
	Storage   *StorageManager
	Deadband  float64
}

// NewControllerManager creates a new controller manager
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, controllers []config.ControllerData, deps ControllerDeps, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		ctx:         ctx,
		wg:          wg,
		deps:        deps,
		logger:      logger,
		controllers: make([]Controller, 0, len(controllers)),
	}

	for _, con := range controllers {
		controller, err := cm.createController(con)
		if err != nil {
			return nil, fmt.Errorf("error creating controller: %w", err)
		}
		cm.controllers = append(cm.controllers, controller)
	}

	return cm, nil
}

type controllerManager struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	deps        ControllerDeps
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		if err := controller.StartController(); err != nil {
			return fmt.Errorf("error starting controller: %w", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}

// createController creates a controller based on the controller configuration
func (cm *controllerManager) createController(cc config.ControllerData) (Controller, error) {
	switch cc.Type {
	case "api":
		var ac config.APIData
		if cc.API != nil {
			ac = *cc.API
		}
		opts := api.Options{
			Telemetry: cm.deps.Telemetry,
			Deadband:  cm.deps.Deadband,
		}
		if cm.deps.Storage != nil {
			opts.Sessions = cm.deps.Storage.SessionStore()
		}
		return api.NewController(cm.ctx, cm.wg, ac, opts, cm.logger.Named("api"))
	default:
		return nil, fmt.Errorf("unknown controller type: %s", cc.Type)
	}
}
