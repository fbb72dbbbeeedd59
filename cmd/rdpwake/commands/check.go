package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/config"
	"github.com/rdpwake/rdpwake/pkg/history"
	"github.com/rdpwake/rdpwake/pkg/monitor"
)

var checkPort int

var checkCmd = &cobra.Command{
	Use:   "check HOST",
	Short: "Check active sessions on a host before connecting",
	Long: `Check probes the host, enumerates its Terminal Services sessions, and
reports whether a Remote Desktop connection is safe: a non-zero exit
status means someone else is using the machine and connecting would
displace them.

Exit status:
  0  safe to connect (or the check could not decide and fails open)
  2  the host is in use by another user and cannot absorb your session`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVarP(&checkPort, "port", "p", 0, "Remote Desktop port (default from config, 3389)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	host := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port := checkPort
	if port == 0 {
		port = cfg.Monitor.Port
	}

	store := openHistory(cfg)
	if store != nil {
		defer store.Close()
	}

	mon := monitor.New(monitorOptions(cfg))
	defer mon.Close()

	result := mon.CheckSessions(context.Background(), host, port, seedClassification(store, host, cfg))
	persistClassification(store, host, result)

	printResult(result)

	if !result.Connectable {
		os.Exit(2)
	}
	return nil
}

// monitorOptions maps config values onto monitor options.
func monitorOptions(cfg *config.Config) monitor.Options {
	return monitor.Options{
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		OpenTimeout:  cfg.Monitor.OpenTimeout,
		EnumTimeout:  cfg.Monitor.EnumTimeout,
		AuxPort:      cfg.Monitor.AuxPort,
	}
}

// openHistory opens the long-term store when enabled. A broken store is
// logged and treated as absent; checks work fine without it.
func openHistory(cfg *config.Config) *history.Store {
	if cfg.History.Enabled != nil && !*cfg.History.Enabled {
		return nil
	}
	store, err := history.New(cfg.History.Path)
	if err != nil {
		logger.Warn("history store unavailable", logger.KeyError, err)
		return nil
	}
	return store
}

// seedClassification fetches an age-gated classification from the store.
func seedClassification(store *history.Store, host string, cfg *config.Config) *monitor.OsClassification {
	if store == nil {
		return nil
	}
	cls, err := store.CachedClassification(host, cfg.History.SeedMaxAge)
	if err != nil {
		logger.Warn("history lookup failed", logger.KeyHost, host, logger.KeyError, err)
		return nil
	}
	return cls
}

// persistClassification writes a freshly learned classification back.
func persistClassification(store *history.Store, host string, result *monitor.SessionCheckResult) {
	if store == nil || !result.OK() || result.Os.Type == monitor.OsUnknown {
		return
	}
	if err := store.RecordClassification(host, result.Os); err != nil {
		logger.Warn("history update failed", logger.KeyHost, host, logger.KeyError, err)
	}
}

// printResult renders one check result for a human.
func printResult(result *monitor.SessionCheckResult) {
	if result.Error != "" {
		fmt.Printf("%s: %s\n", result.Host, result.Error)
		return
	}

	fmt.Printf("%s (%s)\n", result.Host, result.Os.Type)
	if len(result.Sessions) == 0 {
		fmt.Println("  no active sessions")
	}
	for _, s := range result.Sessions {
		marker := " "
		if s.IsActive() {
			marker = "*"
		}
		fmt.Printf("  %s %-24s %-12s %s\n", marker, s.QualifiedUser(), s.StateName(), s.Label)
	}

	if result.Warning != "" {
		fmt.Println()
		fmt.Println(result.Warning)
	}

	if result.Connectable {
		fmt.Println("\nSafe to connect.")
	} else {
		fmt.Println("\nNot safe to connect: the machine is in use.")
	}
}
