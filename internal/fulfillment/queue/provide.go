package queue

import (
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg   config.Config
	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

// Provide selects the backend named by FULFILLMENT_QUEUE.
func Provide(p Params) (fulfillmentdomain.Queue, error) {
	if p.Cfg.Fulfillment.Queue == config.QueueRedis {
		q, err := NewRedis(p.Redis, p.GenID, p.Clock, p.Cfg.Fulfillment.LockTTL)
		if err != nil {
			return nil, err
		}
		p.Log.Info("fulfillment queue ready", zap.String("backend", config.QueueRedis))
		return q, nil
	}
	p.Log.Info("fulfillment queue ready", zap.String("backend", config.QueueDatabase))
	return NewDatabase(p.DB, p.GenID, p.Clock, p.Cfg.Fulfillment.LockTTL), nil
}
