package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabbar/chat-engine/loadtest/client"
	"github.com/gabbar/chat-engine/loadtest/stats"
)

// runChat drives the full lifecycle: each simulated user completes the
// setup flow (gender, language), requests a partner, and exchanges
// text messages for the test duration. Relay latency is measured by
// embedding the send timestamp in the message text.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	pairs := fs.Int("pairs", 50, "number of chat pairs to run")
	duration := fs.Duration("duration", 30*time.Second, "how long to chat")
	msgInterval := fs.Duration("interval", 2*time.Second, "delay between messages per user")
	baseID := fs.Int64("base-id", 2_000_000, "first user id to bind")
	fs.Parse(args)

	log.Printf("chat: starting %d pairs against %s", *pairs, *url)

	collector := stats.NewCollector()
	ctx, cancel := context.WithTimeout(context.Background(), *duration+30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *pairs*2; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			runUser(ctx, *url, userID, *duration, *msgInterval, collector)
		}(*baseID + int64(i))

		// Stagger connections slightly so pairing interleaves.
		time.Sleep(10 * time.Millisecond)
	}

	wg.Wait()
	collector.Report()
}

// runUser simulates one user for the duration of the test.
func runUser(ctx context.Context, url string, userID int64, duration, msgInterval time.Duration, collector *stats.Collector) {
	c, err := client.New(ctx, url, userID)
	if err != nil {
		collector.AddError()
		return
	}
	defer c.Close()
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	chatting := make(chan struct{}, 1)

	c.On(client.TypeStatus, func(raw json.RawMessage) {
		var msg struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		if msg.State == "chatting" {
			select {
			case chatting <- struct{}{}:
				collector.AddMatch()
			default:
			}
		}
	})

	c.On(client.TypeNotice, func(raw json.RawMessage) {
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		if strings.HasPrefix(msg.Text, "Partner found") {
			select {
			case chatting <- struct{}{}:
				collector.AddMatch()
			default:
			}
		}
	})

	c.On(client.TypePartnerMsg, func(raw json.RawMessage) {
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		// Messages carry "ts:<unixnano>" for latency measurement.
		if ns, ok := strings.CutPrefix(msg.Text, "ts:"); ok {
			if sent, err := strconv.ParseInt(ns, 10, 64); err == nil {
				collector.AddRelayLatency(time.Since(time.Unix(0, sent)))
			}
		}
	})

	c.On(client.TypeError, func(json.RawMessage) {
		collector.AddError()
	})

	// Setup flow, then enter the queue.
	if err := c.Action("set_gender:Male"); err != nil {
		collector.AddError()
		return
	}
	if err := c.Action("set_lang:en"); err != nil {
		collector.AddError()
		return
	}
	if err := c.Next(); err != nil {
		collector.AddError()
		return
	}

	// Wait for a partner.
	select {
	case <-chatting:
	case <-time.After(20 * time.Second):
		log.Printf("chat: user %d never matched", userID)
		return
	case <-ctx.Done():
		return
	}

	// Exchange messages until the clock runs out.
	deadline := time.After(duration)
	ticker := time.NewTicker(msgInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			c.Stop()
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			text := "ts:" + strconv.FormatInt(time.Now().UnixNano(), 10)
			if err := c.SendText(text); err != nil {
				collector.AddError()
				return
			}
		}
	}
}
