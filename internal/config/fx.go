package config

import "go.uber.org/fx"

// Module provides application config and the hot-reloadable pricing table.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewPricingHolder,
	),
)
