package commands

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/metrics"
	"github.com/rdpwake/rdpwake/pkg/monitor"

	// Register the Prometheus metrics implementation.
	_ "github.com/rdpwake/rdpwake/pkg/metrics/prometheus"
)

var (
	watchPort     int
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch HOST [HOST...]",
	Short: "Continuously watch sessions on one or more hosts",
	Long: `Watch re-checks each host on a fixed interval and prints a line
whenever the session picture changes. Useful while waiting for a
colleague to log off, or to keep an eye on a lab machine.

With metrics enabled in the configuration, a Prometheus /metrics
endpoint is served for the lifetime of the watch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchPort, "port", "p", 0, "Remote Desktop port (default from config, 3389)")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "re-check interval (default from config, 5s)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port := watchPort
	if port == 0 {
		port = cfg.Monitor.Port
	}
	interval := watchInterval
	if interval == 0 {
		interval = cfg.Monitor.WatchInterval
	}

	opts := monitorOptions(cfg)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		opts.Metrics = metrics.NewMonitorMetrics()
		startMetricsServer(cfg.Metrics.Port)
	}

	store := openHistory(cfg)
	if store != nil {
		defer store.Close()
	}

	mon := monitor.New(opts)
	defer mon.Close()

	// Each observation delivers results on its own goroutine; the shared
	// change-detection map needs a lock.
	var mu sync.Mutex
	last := make(map[string]string, len(args))

	observations := make([]*monitor.Observation, 0, len(args))
	for _, host := range args {
		h := host
		seed := seedClassification(store, h, cfg)
		obs := mon.Observe(h, port, interval, seed, func(result *monitor.SessionCheckResult) {
			persistClassification(store, h, result)
			line := summarize(result)

			mu.Lock()
			changed := last[h] != line
			last[h] = line
			mu.Unlock()

			if changed {
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
			}
		})
		observations = append(observations, obs)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nstopping...")
	for _, obs := range observations {
		obs.Stop()
	}
	return nil
}

// summarize renders one result as a single status line.
func summarize(result *monitor.SessionCheckResult) string {
	if result.Error != "" {
		return fmt.Sprintf("%s: %s", result.Host, result.Error)
	}

	active := 0
	for _, s := range result.Sessions {
		if s.IsActive() {
			active++
		}
	}

	status := "free"
	if result.InUseByOthers {
		status = "in use"
		if result.Connectable {
			status = "in use (multi-session)"
		}
	}
	return fmt.Sprintf("%s: %s, %d session(s), %d active [%s]",
		result.Host, status, len(result.Sessions), active, result.Os.Type)
}

// startMetricsServer serves the Prometheus endpoint in the background.
func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	go func() {
		logger.Info("metrics server listening", logger.KeyPort, port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", logger.KeyError, err)
		}
	}()
}
