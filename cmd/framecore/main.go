// framecore runs a scripted fixed-timestep frame loop in the terminal.
//
// Usage:
//
//	framecore [run]              - Run the frame loop (default)
//	framecore report             - List recorded sessions
//	framecore report --session X - Summarize one session's frame statistics
//
// Global flags:
//
//	--config <path>  - Config file (default: $FRAMECORE_CONFIG or config/framecore.toml)
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var flagConfig string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "framecore",
	Short: "Fixed-timestep frame loop with worker, main and render queues",
	Long: `framecore drives a Lua script through a fixed-timestep frame loop.
Background work runs on a worker pool, results come back on the main queue,
and frames are handed to a dedicated render goroutine.

Examples:
  framecore
  framecore run --config config/framecore.toml
  framecore report
  framecore report --session 6f1c...`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(flagConfig)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(backend string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              framecore  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       固定步長幀迴圈 · 多執行緒任務管線   \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m繪圖後端:\033[0m %s\n\n", backend)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value string) {
	dotsLen := max(42-displayWidth(label)-len(value), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), value)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}
