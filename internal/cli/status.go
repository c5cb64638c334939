package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check session client status",
	Long: `Check the current status of a running session client including the
connection state, retry counter, queued frames, balance and bet lock.`,
	RunE: runStatus,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the synchronized balance",
	RunE:  runBalance,
}

var (
	jsonOutput    bool
	watchMode     bool
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(balanceCmd)

	statusCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")
	statusCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "watch mode (continuous updates)")
	statusCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "watch interval duration")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if watchMode {
		return runWatchStatus(cmd)
	}
	return showCurrentStatus(cmd)
}

func runWatchStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Watching session status (interval: %v)\n", watchInterval)
	fmt.Fprintln(out, "Press Ctrl+C to stop watching...")
	fmt.Fprintln(out)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	if err := showCurrentStatus(cmd); err != nil {
		return err
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(out, "\033[H\033[2J")
			if err := showCurrentStatus(cmd); err != nil {
				return err
			}
		}
	}
}

// showCurrentStatus reports "offline" rather than failing when the API is unreachable
func showCurrentStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	snap, err := newAPIClient().Status(ctx)
	if err != nil {
		if jsonOutput {
			return outputJSON(out, map[string]string{"status": "offline", "error": err.Error()})
		}
		fmt.Fprintf(out, "❌ Session client offline (%s)\n", apiBaseURL())
		return nil
	}

	if jsonOutput {
		return outputJSON(out, snap)
	}
	return outputFormatted(out, snap)
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	bal, err := newAPIClient().Balance(ctx)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	lock := ""
	if bal.Locked {
		lock = " (bet in flight)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "💰 Balance: %d (seq %d)%s\n", bal.Value, bal.Seq, lock)
	return nil
}

func outputJSON(out io.Writer, v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputFormatted(out io.Writer, s *session.Snapshot) error {
	fmt.Fprintf(out, "🎲 Game Session Status\n")
	fmt.Fprintf(out, "=====================\n\n")

	statusIcon := "❌"
	switch s.Connection.State {
	case interfaces.StateConnected:
		statusIcon = "✅"
	case interfaces.StateConnecting, interfaces.StateDisconnected:
		statusIcon = "🔄"
	}

	fmt.Fprintf(out, "Session:     %s\n", s.SessionID)
	fmt.Fprintf(out, "Gateway:     %s\n", s.URL)
	fmt.Fprintf(out, "Connection:  %s %s\n", statusIcon, s.Connection.State)
	if s.Connection.ReconnectAttempt > 0 {
		fmt.Fprintf(out, "Retry:       %d\n", s.Connection.ReconnectAttempt)
	}
	if s.Connection.LastError != "" {
		fmt.Fprintf(out, "Last error:  %s\n", s.Connection.LastError)
	}
	fmt.Fprintf(out, "Queued:      %d\n", s.Connection.Queued)

	fmt.Fprintf(out, "\n💰 Balance\n")
	fmt.Fprintf(out, "----------\n")
	fmt.Fprintf(out, "Value:       %d (seq %d)\n", s.Balance.Value, s.Balance.Seq)
	fmt.Fprintf(out, "Bet lock:    %t\n", s.BetLocked)
	if s.InFlightBet != nil {
		fmt.Fprintf(out, "In flight:   %s %d (%s)\n", s.InFlightBet.Type, s.InFlightBet.Amount, s.InFlightBet.RequestID)
	}
	if s.LastOutcome != nil {
		o := s.LastOutcome
		result := "lost"
		switch {
		case o.Rejected:
			result = "rejected"
		case o.Won:
			result = fmt.Sprintf("won %d", o.Payout)
		}
		fmt.Fprintf(out, "Last bet:    %s %d %s\n", o.GameType, o.Amount, result)
	}
	if s.PublicKey != "" {
		fmt.Fprintf(out, "\nPlayer:      %s (registered: %t)\n", s.PublicKey, s.Registered)
	}

	return nil
}
