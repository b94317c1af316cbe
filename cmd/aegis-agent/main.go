package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	aegisagent "github.com/ghalamif/AegisAgent"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-agent %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./configs/agent.yaml", "Path to agent configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisagent.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./configs/agent.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisagent.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	model, err := cfg.Model()
	if err != nil {
		return fmt.Errorf("device model: %w", err)
	}
	items := 0
	for range model.AllDataItems() {
		items++
	}
	fmt.Printf("config %s looks good: %d device(s), %d data item(s), %d adapter(s)\n",
		*cfgPath, len(model.Devices()), items, len(cfg.Adapters)+len(cfg.OPCUA))
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	var prev map[string]float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := scrapeMetrics(ctx, *url)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Println(renderStats(cur, prev, *interval))
			prev = cur
		}
	}
}

// statsColumns lists the series shown by stats. Counters are printed as a
// per-second rate once a previous scrape exists.
var statsColumns = []struct {
	metric  string
	label   string
	counter bool
}{
	{"aegis_buffer_last_sequence", "seq", false},
	{"aegis_observations_appended_total", "obs/s", true},
	{"aegis_shdr_lines_dropped_total", "dropped/s", true},
	{"aegis_adapters_connected", "adapters", false},
	{"aegis_streaming_clients", "streams", false},
	{"aegis_archived_observations_total", "archived/s", true},
	{"aegis_queue_length", "queue", false},
	{"aegis_wal_size_bytes", "wal_bytes", false},
}

// scrapeMetrics reads the Prometheus text format and sums every series of a
// metric across its labels.
func scrapeMetrics(ctx context.Context, url string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if i := strings.IndexByte(name, '{'); i >= 0 {
			name = name[:i]
		}
		value, err := strconv.ParseFloat(strings.Fields(rest)[0], 64)
		if err != nil {
			continue
		}
		values[name] += value
	}
	return values, scanner.Err()
}

func renderStats(cur, prev map[string]float64, interval time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", time.Now().Format(time.RFC3339))
	for _, c := range statsColumns {
		v := cur[c.metric]
		if c.counter {
			if prev == nil {
				fmt.Fprintf(&b, " %s=-", c.label)
				continue
			}
			fmt.Fprintf(&b, " %s=%.1f", c.label, (v-prev[c.metric])/interval.Seconds())
			continue
		}
		fmt.Fprintf(&b, " %s=%.0f", c.label, v)
	}
	return b.String()
}

func printUsage() {
	fmt.Printf(`AegisAgent CLI

Usage:
  aegis-agent <command> [flags]

Commands:
  run        Start the agent using the provided config
  validate   Load and validate a config and its device model without starting
  stats      Poll the Prometheus metrics endpoint and print live rates and gauges

Examples:
  aegis-agent run -config ./configs/agent.yaml
  aegis-agent validate -config ./configs/agent.yaml
  aegis-agent stats -url http://localhost:9100/metrics -interval 1s
`)
}
