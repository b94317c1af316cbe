package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// EventHandler applies collector events; *agent.Agent implements it.
type EventHandler interface {
	HandleEvent(ev domain.AdapterEvent)
}

// RunEdgePipeline starts every collector and applies their events in arrival
// order until ctx is done. On shutdown the collectors are stopped while the
// channel keeps draining, so their disconnect events still reach the handler.
func RunEdgePipeline(ctx context.Context, cols []ports.Collector, h EventHandler, queueLen int, obs ports.Observability) error {
	if queueLen <= 0 {
		queueLen = 1024
	}
	ch := make(chan domain.AdapterEvent, queueLen)

	for i, col := range cols {
		if err := col.Start(ch); err != nil {
			stopAll(cols[:i], obs)
			return fmt.Errorf("pipeline.RunEdgePipeline: start %s failed: %w", col.Name(), err)
		}
		obs.LogInfo("collector_started", ports.F("adapter", col.Name()))
	}

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		stopAll(cols, obs)
		close(stopped)
	}()

	for {
		select {
		case ev := <-ch:
			h.HandleEvent(ev)
		case <-stopped:
			for {
				select {
				case ev := <-ch:
					h.HandleEvent(ev)
				default:
					return nil
				}
			}
		}
	}
}

func stopAll(cols []ports.Collector, obs ports.Observability) {
	var errs []error
	for _, col := range cols {
		if err := col.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", col.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		obs.LogWarn("collector_stop_failed", err)
	}
}
