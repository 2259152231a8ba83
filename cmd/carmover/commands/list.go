// cmd/carmover/commands/list.go

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"carmover/pkg/ignore"
	"carmover/pkg/storage/s3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listExcludeFrom string

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List source keys as an ndjson manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagBucket == "" {
			return fmt.Errorf("list requires --bucket")
		}

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}

		// 排除规则用 gitignore 语法，清单工具链里现成的格式
		excludes, err := ignore.NewMatcher(listExcludeFrom)
		if err != nil {
			return fmt.Errorf("failed to read exclude file: %w", err)
		}

		store, err := s3.NewAdapter(cmd.Context(), s3.Config{
			Endpoint:        flagEndpoint,
			Region:          flagRegion,
			Bucket:          flagBucket,
			AccessKeyID:     viper.GetString("src.access_key_id"),
			SecretAccessKey: viper.GetString("src.secret_access_key"),
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		listed, skipped := 0, 0

		err = store.List(cmd.Context(), prefix, func(key string, size int64) error {
			if excludes.Matches(key) {
				skipped++
				return nil
			}
			listed++
			return enc.Encode(map[string]any{"key": key, "size": size})
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "📋 Listed %d keys (%d excluded)\n", listed, skipped)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listExcludeFrom, "exclude-from", "", "gitignore-syntax pattern file of keys to skip")
	rootCmd.AddCommand(listCmd)
}
