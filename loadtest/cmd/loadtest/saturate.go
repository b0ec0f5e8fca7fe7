package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gabbar/chat-engine/loadtest/client"
	"github.com/gabbar/chat-engine/loadtest/stats"
)

// runSaturate opens N bound but otherwise idle connections, holds them
// for the given duration, and reports connect latencies. It answers
// the question "how many concurrent users can one gateway hold".
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	count := fs.Int("n", 1000, "number of connections to open")
	rampMs := fs.Int("ramp", 5, "milliseconds between connection attempts")
	hold := fs.Duration("hold", 30*time.Second, "how long to hold connections open")
	baseID := fs.Int64("base-id", 1_000_000, "first user id to bind")
	fs.Parse(args)

	log.Printf("saturate: opening %d connections to %s", *count, *url)

	collector := stats.NewCollector()
	clients := make([]*client.Client, 0, *count)
	var mu sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("saturate: interrupted")
		cancel()
	}()

ramp:
	for i := 0; i < *count; i++ {
		select {
		case <-ctx.Done():
			break ramp
		default:
		}

		c, err := client.New(ctx, *url, *baseID+int64(i))
		if err != nil {
			collector.AddError()
			continue
		}
		collector.AddConnect(c.GetMetrics().ConnectLatency)

		mu.Lock()
		clients = append(clients, c)
		mu.Unlock()

		if (i+1)%500 == 0 {
			log.Printf("saturate: %d connections open", i+1)
		}
		time.Sleep(time.Duration(*rampMs) * time.Millisecond)
	}

	fmt.Printf("saturate: holding %d connections for %s\n", collector.ConnectionCount(), *hold)
	select {
	case <-time.After(*hold):
	case <-ctx.Done():
	}

	mu.Lock()
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	collector.Report()
}
