package bootstrap

import (
	"tminus/config"
	"tminus/core/service/maintainer"
)

// NewMaintainer builds the Periodic Maintainer's full dependency graph and
// returns its cron-backed runner.
func NewMaintainer(cfg *config.Config) (*maintainer.Maintainer, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return deps.Maintainer, cleanup, nil
}
