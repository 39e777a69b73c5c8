package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
)

var (
	RedisCli *redis.Client
)

// InitRedis is separate from Init so the service can run without the
// notification side-channel in dev environments.
func InitRedis() {
	rdCfg := config.Redis
	RedisCli = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", rdCfg.Host, rdCfg.Port),
		Password: rdCfg.Password,
		DB:       rdCfg.DB,
	})
	if err := RedisCli.Ping(context.Background()).Err(); err != nil {
		log.Warnf("conn redis failed, transaction events disabled: %v", err)
		RedisCli = nil
		return
	}
	log.Infof("conn redis %s:%s success", rdCfg.Host, rdCfg.Port)
}
