package probes

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// Redis connects to a redis:// or rediss:// URL and issues a PING.
func Redis(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	r := m.Redis
	if r == nil {
		return nil, fmt.Errorf("monitor does not contain Redis configuration")
	}

	opts, err := goredis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}

	to := time.Duration(timeout(r.Timeout, config.DefaultTimeout)) * time.Second
	opts.DialTimeout = to
	opts.ReadTimeout = to
	opts.WriteTimeout = to

	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	client := goredis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis PING: %w", err)
	}
	return result.New(), nil
}
