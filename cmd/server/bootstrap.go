package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/internal/app/bootstrap"
)

// runtimeStack holds the router and the services behind it for the lifetime
// of the process.
type runtimeStack struct {
	stack  *bootstrap.Stack
	router *gin.Engine
	log    *zap.Logger
}

// startRuntime builds the service stack, starts background maintenance and
// returns the HTTP router. Partially built resources are released on error.
func startRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (rt *runtimeStack, err error) {
	stack, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt = &runtimeStack{stack: stack, log: log}

	defer func() {
		if err != nil {
			rt.Shutdown()
			rt = nil
		}
	}()

	if stack.CacheFallback {
		log.Warn("serving with the database cache; response caching is slower until redis returns")
	}

	if cfg.Maintenance.Enabled {
		if err = stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	if rt.router, err = stack.Router(); err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}
	return rt, nil
}

// Shutdown stops the maintenance scheduler and closes connections.
func (r *runtimeStack) Shutdown() {
	if r == nil || r.stack == nil {
		return
	}
	if err := r.stack.Close(); err != nil {
		r.log.Warn("shutdown completed with errors", zap.Error(err))
	}
}
