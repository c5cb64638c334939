package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Reconnect to the gateway with a fresh retry budget",
	Long: `Ask the running session client to reconnect. This resets the retry
counter, cancels any pending retry and recovers a connection that has
given up after exhausting its attempts.`,
	RunE: runReconnect,
}

var sendCmd = &cobra.Command{
	Use:   "send <json-frame>",
	Short: "Send a raw frame to the gateway",
	Long: `Send a raw JSON frame through the session. The frame must be an object
with a "type" field. While the connection is down the frame is queued and
flushed in order on reconnect; frames older than the queue TTL are dropped.`,
	Example: `  session-client send '{"type":"get_balance"}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSend,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List active alerts",
	RunE:  runAlerts,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

var confirmSend bool

func init() {
	rootCmd.AddCommand(reconnectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsAckCmd)

	sendCmd.Flags().BoolVar(&confirmSend, "confirm", false, "skip the confirmation prompt for bet-like frames")
}

func runReconnect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "🔄 Requesting reconnect...")

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	status, err := newAPIClient().Reconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to request reconnect: %w", err)
	}

	fmt.Fprintf(out, "✅ Reconnect requested, connection %s\n", status.State)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	frame := json.RawMessage(args[0])
	var probe struct {
		Type   string `json:"type"`
		Amount uint64 `json:"amount"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil || probe.Type == "" {
		return fmt.Errorf("frame must be a JSON object with a type")
	}

	// Raw frames bypass the bet lock; make the operator say so
	if probe.Amount > 0 && !confirmSend {
		fmt.Fprintf(cmd.OutOrStdout(), "⚠️  This frame carries an amount and bypasses balance validation.\nType 'SEND' to confirm: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		input, _ := reader.ReadString('\n')
		if strings.TrimSpace(input) != "SEND" {
			fmt.Fprintln(cmd.OutOrStdout(), "❌ Send cancelled")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if err := newAPIClient().Send(ctx, frame); err != nil {
		return fmt.Errorf("frame not accepted: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "📨 Frame accepted: %s\n", probe.Type)
	return nil
}

func runAlerts(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	alerts, err := newAPIClient().Alerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(alerts) == 0 {
		fmt.Fprintln(out, "✅ No active alerts")
		return nil
	}
	for _, alert := range alerts {
		ack := ""
		if alert.AcknowledgedAt != nil {
			ack = " (acknowledged)"
		}
		fmt.Fprintf(out, "[%s] %s %s: %s%s\n", alert.Severity, alert.CreatedAt.Format(time.RFC3339), alert.ID, alert.Message, ack)
	}
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if err := newAPIClient().AcknowledgeAlert(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "👍 Alert %s acknowledged\n", args[0])
	return nil
}
