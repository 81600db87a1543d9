// Package usage tracks resolve outcomes in redis. Counter updates are
// best effort: a failed increment is logged and never surfaces as a
// failure of the operation being counted.
package usage

import (
	"context"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const CName = "objects.usage"

var log = logger.NewNamed(CName)

const counterKeyPrefix = "object_store:resolve_outcome:"

type Config struct {
	// Addr empty disables counting.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type configGetter interface {
	GetRedis() Config
}

func New() Usage {
	return new(usage)
}

type Usage interface {
	app.ComponentRunnable

	// RecordResolveOutcome bumps the counter for one resolve outcome kind.
	RecordResolveOutcome(ctx context.Context, outcome string)
}

type usage struct {
	conf   Config
	client *redis.Client
}

func (u *usage) Name() (name string) {
	return CName
}

func (u *usage) Init(a *app.App) (err error) {
	u.conf = a.MustComponent("config").(configGetter).GetRedis()
	return
}

func (u *usage) Run(ctx context.Context) (err error) {
	if u.conf.Addr == "" {
		return
	}
	u.client = redis.NewClient(&redis.Options{
		Addr:     u.conf.Addr,
		Password: u.conf.Password,
		DB:       u.conf.DB,
	})
	if err = u.client.Ping(ctx).Err(); err != nil {
		return
	}
	return
}

func (u *usage) RecordResolveOutcome(ctx context.Context, outcome string) {
	if u.client == nil {
		return
	}
	if err := u.client.Incr(ctx, counterKeyPrefix+outcome).Err(); err != nil {
		log.Debug("resolve outcome counter failed", zap.String("outcome", outcome), zap.Error(err))
	}
}

func (u *usage) Close(ctx context.Context) (err error) {
	if u.client != nil {
		err = u.client.Close()
	}
	return
}
