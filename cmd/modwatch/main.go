// modwatch is a moderation side-car: it consumes new-report alerts
// from NATS, keeps per-target report tallies in Redis, and flags
// repeat offenders in the log for the on-call moderator. It holds no
// chat state of its own and can be restarted freely.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gabbar/chat-engine/internal/messaging"
)

// tallyTTL bounds how long a target's report count survives without
// new reports; matches the longest ban rung.
const tallyTTL = 720 * time.Hour

// repeatThreshold is how many reports flag a target as a repeat
// offender.
const repeatThreshold = 3

func main() {
	log.Println("Starting Gabbar moderation watcher...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "gabbar-modwatch"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeModerationAlert(func(data []byte) {
		var alert messaging.ModerationAlert
		if err := json.Unmarshal(data, &alert); err != nil {
			log.Printf("[modwatch] failed to unmarshal alert: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		key := "mod:reports:" + strconv.FormatInt(alert.ReportedID, 10)
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("[modwatch] redis INCR error key=%s: %v", key, err)
			count = 1
		} else if count == 1 {
			rdb.Expire(ctx, key, tallyTTL)
		}

		if count >= repeatThreshold {
			log.Printf("[modwatch] REPEAT OFFENDER user=%d reports=%d latest_reason=%s reporter=%d",
				alert.ReportedID, count, alert.Reason, alert.ReporterID)
		} else {
			log.Printf("[modwatch] report user=%d reports=%d reason=%s reporter=%d",
				alert.ReportedID, count, alert.Reason, alert.ReporterID)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation alerts: %v", err)
	}

	log.Printf("modwatch running (nats=%s redis=%s)", natsConfig.URL, redisAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := rdb.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
}
