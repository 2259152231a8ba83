// cmd/carmover/commands/index.go

package commands

import (
	"context"
	"os"

	"carmover/pkg/driver"
	"carmover/pkg/reindexer"
	"carmover/pkg/types"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [key...]",
	Short: "Rewrite block-index rows to the canonical shard location",
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

			src := types.ShardRef{ObjectRef: ref, CID: shard}
			res, err := reindexer.Reindex(ctx, store, CM.BlockIndex, src, CM.CanonicalCarPath(shard))
			if err != nil {
				return driver.Result{}, err
			}
			return driver.Result{Shard: shard.String(), Updated: res.Updated}, nil
		}

		return newPool().Run(cmd.Context(), args, os.Stdin, work)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
