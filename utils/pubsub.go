package utils

import (
	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
)

var RedisClient *redis.Client

// SetupRedis connects the optional notification sink. An empty addr or a
// dead server just disables publishing, downloads never depend on it.
func SetupRedis(addr string) {
	if addr == "" {
		return
	}
	client := redis.NewClient(
		&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0,
		})
	if err := client.Ping().Err(); err != nil {
		log.WithField("redis", addr).Warnf("redis unreachable, notifications disabled: %v", err)
		return
	}
	RedisClient = client
}

func Publish(channel string, data []byte) {
	if RedisClient == nil {
		return
	}
	_ = RedisClient.Publish(channel, data)
}
