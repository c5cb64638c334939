package cli

import (
	"github.com/spf13/cobra"

	"github.com/tablestakes/game-session/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start terminal-based monitoring interface",
	Long: `Launch an interactive terminal UI showing the connection state, balance,
bet lock and recent results of a running session client. Press 'r' to
reconnect, 'u' to release a stuck bet lock and 'q' to quit.`,
	RunE: runMonitor,
}

var (
	refreshRate int
	compactMode bool
	statsWindow int
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntVarP(&refreshRate, "refresh", "r", 1000, "refresh rate in milliseconds")
	monitorCmd.Flags().BoolVarP(&compactMode, "compact", "c", false, "compact display mode")
	monitorCmd.Flags().IntVar(&statsWindow, "window", 50, "number of recent bets summarized")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return tui.StartMonitor(tui.Config{
		APIURL:      apiBaseURL(),
		RefreshRate: refreshRate,
		CompactMode: compactMode,
		StatsWindow: statsWindow,
	})
}
