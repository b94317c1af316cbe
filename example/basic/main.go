package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	aegisagent "github.com/ghalamif/AegisAgent"
)

func main() {
	flow, err := aegisagent.Conf("../../configs/agent.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent exited: %v", err)
	}
}
