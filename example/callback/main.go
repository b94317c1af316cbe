package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisAgent/pkg/aegisagent"
)

func main() {
	flow, err := aegisagent.Conf("../../configs/agent.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []*aegisagent.Observation) error {
		for _, o := range batch {
			fmt.Printf("%s seq=%d item=%s value=%v\n",
				o.Timestamp.Format(time.RFC3339Nano),
				o.Sequence,
				o.DataItemID,
				o.Value,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, aegisagent.StreamOutCallback("stdout", callback)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
