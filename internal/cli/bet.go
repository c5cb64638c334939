package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablestakes/game-session/internal/api"
)

var betCmd = &cobra.Command{
	Use:   "bet <game-type> <amount> [key=value ...]",
	Short: "Submit a bet through the running session",
	Long: `Submit a bet. The session checks the amount against the synchronized
balance and holds the bet lock until the matching result arrives. Extra
key=value pairs are sent as game parameters; numeric and boolean values are
typed accordingly.`,
	Example: `  session-client bet dice_roll 25 target=4 over=true`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runBet,
}

var betUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release the bet lock and abandon the in-flight bet",
	RunE:  runBetUnlock,
}

var betStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recently resolved bets",
	RunE:  runBetStats,
}

var betStatsWindow int

func init() {
	rootCmd.AddCommand(betCmd)
	betCmd.AddCommand(betUnlockCmd)
	betCmd.AddCommand(betStatsCmd)

	betStatsCmd.Flags().IntVar(&betStatsWindow, "window", 50, "number of recent bets")
}

func runBet(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || amount == 0 {
		return fmt.Errorf("invalid amount %q: must be a positive integer", args[1])
	}

	params, err := parseParams(args[2:])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	requestID, err := newAPIClient().SubmitBet(ctx, api.BetRequest{
		Type:   args[0],
		Amount: amount,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("bet not submitted: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Bet submitted: %s\n", requestID)
	return nil
}

// parseParams turns key=value pairs into typed game parameters
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		switch key {
		case "type", "amount", "requestId":
			return nil, fmt.Errorf("parameter %q is reserved", key)
		}

		if n, err := strconv.ParseFloat(value, 64); err == nil {
			params[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func runBetUnlock(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	bal, err := newAPIClient().UnlockBet(ctx)
	if err != nil {
		return fmt.Errorf("failed to release bet lock: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "🔓 Bet lock released, balance %d (seq %d)\n", bal.Value, bal.Seq)
	return nil
}

func runBetStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	stats, err := newAPIClient().BetStats(ctx, betStatsWindow)
	if err != nil {
		return fmt.Errorf("failed to get bet stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📈 Last %d bets\n", stats.WindowSize)
	fmt.Fprintf(out, "Total:    %d (won %d, lost %d, rejected %d)\n", stats.TotalBets, stats.Won, stats.Lost, stats.Rejected)
	fmt.Fprintf(out, "Win rate: %.2f%%\n", stats.WinRate*100)
	fmt.Fprintf(out, "Staked:   %d\n", stats.TotalStaked)
	fmt.Fprintf(out, "Payout:   %d\n", stats.TotalPayout)
	return nil
}
