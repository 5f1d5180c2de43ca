package bootstrap

import (
	"github.com/gofiber/fiber/v2"

	"tminus/adapter/in/http"
	"tminus/config"
)

// NewAPI assembles the fiber.App serving the HTTP surface.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	app := http.NewRouter(http.RouterDeps{
		DB:           deps.DB,
		Redis:        deps.Redis,
		JWTSecret:    cfg.JWTSecret,
		Accounts:     deps.Accounts,
		Graph:        deps.Graph,
		Scheduler:    deps.Scheduler,
		AccountRepo:  deps.AccountRepo,
		SyncQueue:    deps.SyncQueue,
		OAuthConfigs: deps.OAuthConfigs,
	})

	return app, cleanup, nil
}
