package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, client)
	step2_reset_status(ctx, client)
	step3_verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/sentinel serve")
}

func step1_api_keys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	// Key pattern: sentinel:auth:{api_key} → client name.
	// The authenticator falls back to these after VALID_API_KEYS.
	apiKeys := map[string]string{
		"sentinel:auth:driver_app_key":  "driver_app",
		"sentinel:auth:dispatch_ui_key": "dispatch_ui",
		"sentinel:auth:test_key":        "test_client",
	}

	for key, clientName := range apiKeys {
		err := client.Set(ctx, key, clientName, 0).Err()
		if err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, clientName)
	}
}

// A flag left behind by a previous run would show the fleet as offline
// until the first successful probe.
func step2_reset_status(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Resetting offline flag ──────────────")

	n, err := client.Del(ctx, "sentinel:status:offline").Result()
	if err != nil {
		log.Fatalf("Failed to reset offline flag: %v", err)
	}
	fmt.Printf("  ✓ sentinel:status:offline cleared (%d removed)\n", n)
}

func step3_verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	var count int
	iter := client.Scan(ctx, 0, "sentinel:auth:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", count)

	val, err := client.Get(ctx, "sentinel:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: sentinel:auth:test_key → %s\n", val)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
