package usage

import (
	"github.com/smallbiznis/pagequota/internal/usage/period"
	"github.com/smallbiznis/pagequota/internal/usage/repository"
	"github.com/smallbiznis/pagequota/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(period.NewDeriver),
	fx.Provide(service.NewService),
)
