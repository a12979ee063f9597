package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Pinger is anything that can probe its remote endpoint, such as the Redis
// cache backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayCheck returns a [Checker] that probes the JOI gateway at baseURL.
// Any HTTP response counts as reachable; only transport-level failures mark
// the gateway unhealthy. A nil client uses [http.DefaultClient].
func GatewayCheck(baseURL string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: "gateway",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
			if err != nil {
				return fmt.Errorf("health: build gateway request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health: gateway unreachable: %w", err)
			}
			resp.Body.Close()
			return nil
		},
	}
}

// RedisCheck returns a [Checker] that pings the TTS cache's Redis backend.
func RedisCheck(p Pinger) Checker {
	return Checker{
		Name: "redis",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("health: redis backend not configured")
			}
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("health: redis ping: %w", err)
			}
			return nil
		},
	}
}
