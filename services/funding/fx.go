package funding

import (
	"go.uber.org/fx"
)

var Module = fx.Module("funding.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)
