package searchcache

import (
	"github.com/seeklabs/bloxscout/internal/searchcache/service"
	"go.uber.org/fx"
)

var Module = fx.Module("searchcache.service",
	fx.Provide(service.NewService),
)
