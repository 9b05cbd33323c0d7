package lookup

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/seeklabs/bloxscout/internal/config"
	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
	"github.com/seeklabs/bloxscout/internal/lookup/roblox"
)

var Module = fx.Module("lookup.client",
	fx.Provide(func(cfg config.Config, log *zap.Logger) lookupdomain.Client {
		return roblox.NewClient(roblox.Config{
			BaseURL: cfg.Lookup.BaseURL,
			Timeout: cfg.Lookup.Timeout,
		}, log)
	}),
)
