package providers

import (
	"github.com/seeklabs/bloxscout/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module bundles external document providers.
var Module = fx.Module("providers",
	pdf.Module,
)
