package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	aegisagent "github.com/ghalamif/AegisAgent"
)

func main() {
	flow, err := aegisagent.Conf("../../configs/agent.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := aegisagent.NewChannelSink("fanout", 32)
	defer closeBatches()

	// Feed a few lines in-process alongside the configured adapters.
	lines := aegisagent.NewLineCollector("local", aegisagent.LineCollectorConfig{Device: "mill"})
	go feed(ctx, lines)
	go fanoutWorker("archive", batches)

	flow.StreamIN(aegisagent.StreamInLines(lines))
	if err := flow.Run(ctx, aegisagent.StreamOutSink(sink)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func feed(ctx context.Context, lines *aegisagent.LineCollector) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	speed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			speed = (speed + 250) % 5000
			if _, err := lines.Push(fmt.Sprintf("Sspeed|%d|exec|ACTIVE", speed)); err != nil && !errors.Is(err, aegisagent.ErrCollectorStopped) {
				log.Printf("push: %v", err)
			}
		}
	}
}

func fanoutWorker(name string, batches <-chan []*aegisagent.Observation) {
	for batch := range batches {
		last := batch[len(batch)-1]
		fmt.Printf("[%s] %d observations up to seq=%d at %s\n", name, len(batch), last.Sequence, time.Now().Format(time.RFC3339))
	}
}
