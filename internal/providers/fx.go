package providers

import (
	"github.com/smallbiznis/paysettle/internal/providers/email"
	"github.com/smallbiznis/paysettle/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
