package catalog

import (
	catalogdomain "github.com/smallbiznis/paysettle/internal/catalog/domain"
	"github.com/smallbiznis/paysettle/internal/catalog/repository"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/payable"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
)

// Kinds returns one resolver per payable type.
func Kinds(db *gorm.DB, repo catalogdomain.Repository, clk clock.Clock) []payabledomain.Kind {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	s := &store{db: db, repo: repo, clock: clk}
	return []payabledomain.Kind{
		RequestKind{s},
		SubscriptionKind{s},
		FormationKind{s},
		ShopPurchaseKind{s},
	}
}

func NewRegistry(db *gorm.DB, repo catalogdomain.Repository, clk clock.Clock) (*payable.Registry, error) {
	return payable.NewRegistry(Kinds(db, repo, clk)...)
}
