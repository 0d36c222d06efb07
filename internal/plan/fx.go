package plan

import (
	"github.com/smallbiznis/pagequota/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("plan",
	fx.Provide(config.NewPlanConfigHolder),
	fx.Provide(NewCatalog),
)
