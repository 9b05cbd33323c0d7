package ledger

import (
	"github.com/seeklabs/bloxscout/internal/ledger/service"
	"go.uber.org/fx"
)

// Module provides the credit ledger service.
var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
