package email

import (
	"github.com/smallbiznis/paysettle/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	return NewSMTP(Config{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUsername,
		Password:    cfg.Email.SMTPPassword,
		From:        cfg.Email.SMTPFrom,
		TemplateDir: cfg.Email.TemplateDir,
	})
}
