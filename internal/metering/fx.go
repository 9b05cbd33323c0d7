package metering

import (
	"go.uber.org/fx"

	"github.com/seeklabs/bloxscout/internal/metering/service"
)

var Module = fx.Module("metering.service",
	fx.Provide(service.NewService),
)
