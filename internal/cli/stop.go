package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the session client",
	Long: `Stop a running session client gracefully. This will send a
SIGTERM signal so the connection and control API shut down cleanly.`,
	RunE: runStop,
}

var (
	forceKill bool
	pidFile   string
)

func init() {
	rootCmd.AddCommand(stopCmd)

	stopCmd.Flags().BoolVarP(&forceKill, "force", "f", false, "force kill the process (SIGKILL)")
	stopCmd.Flags().StringVar(&pidFile, "pid-file", "./session-client.pid", "path to PID file")
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "🛑 Stopping session client...")

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return stopByProcessName(cmd)
	}

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %w", err)
	}

	if err := signalProcess(cmd, pid); err != nil {
		return err
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(out, "⚠️  Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, "✅ Stop signal sent")
	return nil
}

func signalProcess(cmd *cobra.Command, pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	var signal os.Signal = syscall.SIGTERM
	if forceKill {
		signal = syscall.SIGKILL
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Force killing process...")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "📨 Sending graceful shutdown signal to %d...\n", pid)
	}

	if err := process.Signal(signal); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	return nil
}

func stopByProcessName(cmd *cobra.Command) error {
	fmt.Fprintln(cmd.OutOrStdout(), "🔍 Looking for session client process...")

	output, err := exec.Command("pgrep", "-f", "session-client (start|run)").Output()
	if err != nil {
		return fmt.Errorf("no running session client process found")
	}

	first := strings.Fields(string(output))
	if len(first) == 0 {
		return fmt.Errorf("no running session client process found")
	}
	pid, err := strconv.Atoi(first[0])
	if err != nil {
		return fmt.Errorf("invalid PID from pgrep: %w", err)
	}

	return signalProcess(cmd, pid)
}
