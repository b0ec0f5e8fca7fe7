package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gabbar/chat-engine/internal/ban"
	"github.com/gabbar/chat-engine/internal/engine"
	"github.com/gabbar/chat-engine/internal/gateway"
	"github.com/gabbar/chat-engine/internal/messaging"
	"github.com/gabbar/chat-engine/internal/ratelimit"
	"github.com/gabbar/chat-engine/internal/report"
)

func main() {
	config := gateway.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HeartbeatInterval = d
		}
	}

	adminIDs := parseAdminIDs(os.Getenv("ADMIN_IDS"))

	sweepInterval := ban.DefaultSweepInterval
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweepInterval = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "gabbar-chatd"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis (rate limiting only; all chat state is in-memory) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	var limiter *ratelimit.Limiter
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable at %s, rate limiting disabled: %v", redisAddr, err)
	} else {
		limiter = ratelimit.NewLimiter(rdb)
	}
	cancel()

	log.Printf("Gabbar chat engine starting")
	log.Printf("  listen_addr:      %s", config.ListenAddr)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  nats_url:         %s", natsConfig.URL)
	log.Printf("  redis_addr:       %s", redisAddr)
	log.Printf("  admins:           %d", len(adminIDs))
	log.Printf("  sweep_interval:   %s", sweepInterval)

	conns := gateway.NewRegistry()
	tr := gateway.NewTransport(conns, natsClient)

	eng := engine.New(engine.Config{
		Transport: tr,
		AdminIDs:  adminIDs,
		Alert: func(r report.Report) {
			alert := messaging.ModerationAlert{
				ReportID:   r.ID,
				ReporterID: r.ReporterID,
				ReportedID: r.ReportedID,
				Reason:     report.ReasonLabels[r.Reason],
				CreatedAt:  r.CreatedAt.Unix(),
			}
			data, err := json.Marshal(alert)
			if err != nil {
				log.Printf("failed to marshal moderation alert: %v", err)
				return
			}
			if err := natsClient.PublishModerationAlert(data); err != nil {
				log.Printf("failed to publish moderation alert: %v", err)
			}
		},
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go eng.StartSweep(sweepCtx, sweepInterval)

	server := gateway.NewServer(config, eng, conns, limiter, natsClient)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stopSweep()
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// parseAdminIDs parses the comma-separated ADMIN_IDS list. Malformed
// entries are skipped with a warning rather than aborting startup.
func parseAdminIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			log.Printf("ignoring malformed admin id %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
