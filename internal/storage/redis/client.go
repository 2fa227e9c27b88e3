package redis

import (
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 为 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	// OpTimeout 同时作为拨号与读写超时。
	OpTimeout time.Duration
}

// NewClient 创建 Redis 客户端但不做连通性检查，连通性由调用方的健康检查决定。
// 关闭了客户端内部重试：单次操作失败即上报，由调用方决定如何处理。
func NewClient(cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("Redis address 不能为空")
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	}), nil
}
