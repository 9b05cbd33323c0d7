package audit

import (
	"github.com/seeklabs/bloxscout/internal/audit/repository"
	"github.com/seeklabs/bloxscout/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the audit trail service and its repository.
var Module = fx.Module("audit.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
