// cmd/carmover/commands/head.go

package commands

import (
	"context"
	"os"

	"carmover/pkg/driver"
	"carmover/pkg/types"

	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head [key...]",
	Short: "Check whether shards exist at the destination",
	Long: `For each item, HEADs the canonical carpark key of the shard and emits
{key, shard, exists}. This is the audit primitive: run it over a
manifest after a copy batch to find anything that did not land.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		work := func(ctx context.Context, item driver.Item) (driver.Result, error) {
			ref, err := sourceRef(item)
			if err != nil {
				return driver.Result{}, err
			}
			store, err := CM.SourceStore(ctx, ref)
			if err != nil {
				return driver.Result{}, err
			}

			shard, err := resolveShard(ctx, store, ref, item)
			if err != nil {
				return driver.Result{}, err
			}

			exists, err := CM.Carpark.Head(ctx, types.ShardKey(shard))
			if err != nil {
				return driver.Result{}, err
			}
			return driver.Result{Shard: shard.String(), Exists: &exists}, nil
		}

		return newPool().Run(cmd.Context(), args, os.Stdin, work)
	},
}

func init() {
	rootCmd.AddCommand(headCmd)
}
