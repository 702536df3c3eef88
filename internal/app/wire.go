//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/mailcraft/server/internal/infra/config"
)

// InitializeApp creates the application with all dependencies wired.
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}
