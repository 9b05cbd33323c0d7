package payment

import (
	"go.uber.org/fx"

	"github.com/seeklabs/bloxscout/internal/config"
	"github.com/seeklabs/bloxscout/internal/payment/repository"
	paymentservice "github.com/seeklabs/bloxscout/internal/payment/service"
	"github.com/seeklabs/bloxscout/internal/payment/webhook"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(cfg config.Config) *webhook.Verifier {
		return webhook.NewVerifier(cfg.Webhook.PaymentSecret)
	}),
)
