//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"InsightLane/internal/biz"
	"InsightLane/internal/conf"
	"InsightLane/internal/data"
	"InsightLane/internal/server"
	"InsightLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Gateway, *conf.Retry, *conf.Storage, *conf.Pipeline, *conf.Scheduler, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newArchiveSweeper,
		newApp,
	))
}
