package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/sentinel/internal/config"
	"fleet-monitor/sentinel/internal/domain"
)

const (
	driverStateTTL = 30 * time.Second
	driversGeoKey  = "fleet:drivers:geo"
	offlineKey     = "sentinel:status:offline"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// PipelineStateUpdate refreshes the live state hash, the geo index and
// the per-driver telemetry channel in one round trip.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, s *domain.TelemetrySnapshot) error {
	stateData := map[string]any{
		"driver_id":   s.DriverID,
		"job_id":      s.JobID,
		"lat":         s.Location.Lat,
		"lng":         s.Location.Lng,
		"gps_status":  string(s.GPSStatus),
		"speed":       s.Speed,
		"is_stopped":  s.IsStopped,
		"eta_delay":   s.ETADelay,
		"emergency":   s.EmergencyTriggered,
		"timestamp":   s.Timestamp.Unix(),
		"received_at": time.Now().Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("driver:%s:state", s.DriverID)
	pubChannel := fmt.Sprintf("fleet:%s:telemetry", s.DriverID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, driverStateTTL)
	pipe.GeoAdd(ctx, driversGeoKey, &redis.GeoLocation{
		Name:      s.DriverID,
		Longitude: s.Location.Lng,
		Latitude:  s.Location.Lat,
	})
	pipe.Publish(ctx, pubChannel, pubPayload)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// GetAPIKey returns the client id bound to apiKey, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("sentinel:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe streams messages published on channel until ctx is done.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SetOffline records the backend reachability flag the dashboards
// show as the offline badge.
func (r *RedisStore) SetOffline(ctx context.Context, offline bool) error {
	if !offline {
		return r.client.Del(ctx, offlineKey).Err()
	}
	return r.client.Set(ctx, offlineKey, time.Now().UTC().Format(time.RFC3339), 0).Err()
}
