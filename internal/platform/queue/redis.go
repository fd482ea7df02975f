package queue

import (
	"context"
	"time"

	"duel_arena/internal/platform/config"
	"duel_arena/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var RDB *redis.Client

func ConnectRedis() {
	RDB = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		logger.Fatal(ctx, "could not connect to Redis", zap.String("addr", config.AppConfig.RedisAddr), zap.Error(err))
	}
	logger.Info(ctx, "connected to Redis", zap.String("addr", config.AppConfig.RedisAddr))
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		logger.Info(context.Background(), "redis connection closed")
	}
}
