package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/history"
	"github.com/rdpwake/rdpwake/pkg/monitor"
	"github.com/rdpwake/rdpwake/pkg/wol"
)

var (
	wakeMAC       string
	wakeBroadcast string
	wakeUDPPort   int
	wakeWait      time.Duration
)

var wakeCmd = &cobra.Command{
	Use:   "wake HOST",
	Short: "Send a Wake-on-LAN magic packet to a host",
	Long: `Wake sends a Wake-on-LAN magic packet to the host's MAC address.

The MAC is taken from --mac, or looked up in the history database when
the host has been woken before. Passing a MAC address directly as HOST
also works. With --wait, wake polls the host until it answers on its
Remote Desktop port or the wait elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: runWake,
}

func init() {
	wakeCmd.Flags().StringVarP(&wakeMAC, "mac", "m", "", "hardware address (overrides the stored one)")
	wakeCmd.Flags().StringVarP(&wakeBroadcast, "broadcast", "b", "", "broadcast address (default from config, 255.255.255.255)")
	wakeCmd.Flags().IntVar(&wakeUDPPort, "udp-port", 0, "Wake-on-LAN UDP port (default from config, 9)")
	wakeCmd.Flags().DurationVarP(&wakeWait, "wait", "w", 0, "poll until the host is reachable or this duration elapses")
}

func runWake(cmd *cobra.Command, args []string) error {
	host := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	broadcast := wakeBroadcast
	if broadcast == "" {
		broadcast = cfg.Wake.Broadcast
	}
	udpPort := wakeUDPPort
	if udpPort == 0 {
		udpPort = cfg.Wake.Port
	}

	store := openHistory(cfg)
	if store != nil {
		defer store.Close()
	}

	mac, err := resolveMAC(store, host)
	if err != nil {
		return err
	}

	if err := wol.Wake(mac, broadcast, udpPort); err != nil {
		return err
	}
	fmt.Printf("magic packet sent to %s (%s via %s)\n", host, mac, broadcast)
	logger.Info("wake packet sent",
		logger.KeyHost, host, logger.KeyMAC, mac, logger.KeyPort, udpPort)

	// Remember the pairing so the next wake needs only the host name.
	if store != nil && host != mac {
		if err := store.RecordMAC(host, mac); err != nil {
			logger.Warn("history update failed", logger.KeyHost, host, logger.KeyError, err)
		}
	}

	if wakeWait > 0 {
		return waitReachable(cfg.Monitor.Port, host, wakeWait)
	}
	return nil
}

// resolveMAC decides which hardware address to wake: the --mac flag, the
// HOST argument itself when it parses as a MAC, or the stored one.
func resolveMAC(store *history.Store, host string) (string, error) {
	if wakeMAC != "" {
		if _, err := wol.ParseMAC(wakeMAC); err != nil {
			return "", err
		}
		return wakeMAC, nil
	}

	if _, err := wol.ParseMAC(host); err == nil {
		return host, nil
	}

	if store == nil {
		return "", fmt.Errorf("no MAC address for %s: pass --mac (history is disabled)", host)
	}
	mac, err := store.MAC(host)
	if errors.Is(err, history.ErrNotFound) {
		return "", fmt.Errorf("no MAC address on file for %s: pass --mac once to record it", host)
	}
	if err != nil {
		return "", err
	}
	return mac, nil
}

// waitReachable polls the host until it answers or the deadline passes.
func waitReachable(port int, host string, wait time.Duration) error {
	mon := monitor.New(monitor.Options{})
	defer mon.Close()

	fmt.Printf("waiting up to %s for %s to come up...\n", wait, host)
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		result := mon.CheckSessions(context.Background(), host, port, nil)
		if result.OK() {
			fmt.Printf("%s is up\n", host)
			return nil
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("%s did not come up within %s", host, wait)
}
