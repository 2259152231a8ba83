// cmd/carmover/commands/errors.go

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var errorsClear bool

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Replay recorded per-item failures as ndjson",
	Long: `Dumps the failure list accumulated by previous runs (--marker-url
required). Pipe the "item" fields back into copy/index to retry just
the failed subset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if markers == nil {
			return fmt.Errorf("errors requires --marker-url")
		}

		failures, err := markers.Failures(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read failure list: %w", err)
		}
		for _, line := range failures {
			fmt.Println(line)
		}
		fmt.Fprintf(os.Stderr, "⚠️  %d recorded failures\n", len(failures))

		if errorsClear {
			if err := markers.ClearFailures(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear failure list: %w", err)
			}
			fmt.Fprintln(os.Stderr, "🧹 Failure list cleared")
		}
		return nil
	},
}

func init() {
	errorsCmd.Flags().BoolVar(&errorsClear, "clear", false, "clear the failure list after printing")
	rootCmd.AddCommand(errorsCmd)
}
