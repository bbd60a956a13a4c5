// Command irrigator runs timed irrigation events against GPIO relays and
// publishes schedule transitions to MQTT.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/status"
)

var version = "dev"

// CLI flags; zero values leave the config file setting alone.
var (
	configPath  string
	brokerFlag  string
	siteFlag    string
	dirFlag     string
	httpFlag    string
	pollFlag    time.Duration
	beatFlag    time.Duration
	tzFlag      string
	noWatchFlag bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "irrigator",
	Short:         "Timed irrigation controller",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon (default)",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the configured events and exit",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate event files and report problems",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Write a new event file and print its id",
	Args:  cobra.NoArgs,
	RunE:  runNew,
}

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Put an event on the schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduled(cmd, args[0], true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Take an event off the schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduled(cmd, args[0], false) },
}

// new event flags
var (
	newValve    int
	newStart    string
	newDuration time.Duration
	newInterval time.Duration
	newPause    time.Duration
	newDays     string
	newParallel bool
	newEnable   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultPath, "YAML config file")
	pf.StringVar(&dirFlag, "schedule-dir", "", "Directory of event files")
	pf.StringVar(&tzFlag, "timezone", "", "Timezone of event start times")

	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		f := cmd.Flags()
		f.StringVar(&brokerFlag, "broker", "", "MQTT broker address")
		f.StringVar(&siteFlag, "site", "", "Site name used in MQTT topics")
		f.StringVar(&httpFlag, "http", "", `HTTP status address ("off" disables)`)
		f.DurationVar(&pollFlag, "poll", 0, "Scheduler polling interval")
		f.DurationVar(&beatFlag, "heartbeat", -1, "Heartbeat interval (0 to disable)")
		f.BoolVar(&noWatchFlag, "no-watch", false, "Do not reload event files on change")
	}

	nf := newCmd.Flags()
	nf.IntVar(&newValve, "valve", 0, "Valve number")
	nf.StringVar(&newStart, "start", "06:00", "Start time HH:MM")
	nf.DurationVar(&newDuration, "duration", 10*time.Minute, "Total watering time")
	nf.DurationVar(&newInterval, "interval", 0, "Slice length when cycling (0 = continuous)")
	nf.DurationVar(&newPause, "pause", 0, "Soak time between slices")
	nf.StringVar(&newDays, "days", "SMTWTFS", `Weekdays as seven letters from Sunday, '-' for off`)
	nf.BoolVar(&newParallel, "parallel", false, "Allow sharing the valve with other parallel events")
	nf.BoolVar(&newEnable, "enable", false, "Schedule the event immediately")

	rootCmd.AddCommand(runCmd, listCmd, checkCmd, newCmd, enableCmd, disableCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if brokerFlag != "" {
		cfg.Broker = brokerFlag
	}
	if siteFlag != "" {
		cfg.Site = siteFlag
	}
	if dirFlag != "" {
		cfg.Schedule.Dir = dirFlag
	}
	if httpFlag == "off" {
		cfg.HTTPAddr = ""
	} else if httpFlag != "" {
		cfg.HTTPAddr = httpFlag
	}
	if pollFlag > 0 {
		cfg.Poll = pollFlag
	}
	if beatFlag >= 0 {
		cfg.Heartbeat = beatFlag
	}
	if tzFlag != "" {
		cfg.Timezone = tzFlag
	}
	if noWatchFlag {
		cfg.Schedule.Watch = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
