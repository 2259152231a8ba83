// cmd/carmover/commands/hash.go

package commands

import (
	"context"
	"os"

	"carmover/pkg/driver"
	"carmover/pkg/hasher"

	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash [key...]",
	Short: "Compute shard cids for source objects",
	Long:  "Reads keys from arguments or an ndjson manifest on stdin and emits {key, cid} per item.",
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
			res, err := hasher.Hash(ctx, store, ref)
			if err != nil {
				return driver.Result{}, err
			}
			return driver.Result{Cid: res.CID.String()}, nil
		}

		return newPool().Run(cmd.Context(), args, os.Stdin, work)
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
