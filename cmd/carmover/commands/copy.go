// cmd/carmover/commands/copy.go

package commands

import (
	"context"
	"os"

	"carmover/pkg/copier"
	"carmover/pkg/driver"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"
)

var (
	copyRoot       string
	copyMaxPutSize int64
)

var copyCmd = &cobra.Command{
	Use:   "copy [key...]",
	Short: "Copy shards to the destination buckets",
	Long: `Copies each shard to carpark, writes its side index to satnav and its
root link to dudewhere. The shard cid comes from the manifest ("shard"
field) or is computed on the fly; the root comes from the manifest,
--root, or is derived from the key path.`,
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

			var root cid.Cid
			switch {
			case item.Root != "":
				root, err = types.ParseRootCID(item.Root)
			case copyRoot != "":
				root, err = types.ParseRootCID(copyRoot)
			default:
				root, err = driver.RootFromKey(item.Key)
			}
			if err != nil {
				return driver.Result{}, err
			}

			res, err := copier.Copy(ctx, CM.CopyStores(store),
				types.ShardRef{ObjectRef: ref, CID: shard}, root,
				copier.Options{MaxPutSize: copyMaxPutSize})
			if err != nil {
				return driver.Result{}, err
			}
			return driver.Result{Shard: shard.String(), Skipped: res.Skipped}, nil
		}

		return newPool().Run(cmd.Context(), args, os.Stdin, work)
	},
}

func init() {
	copyCmd.Flags().StringVar(&copyRoot, "root", "", "root cid for all items (overridden by the manifest)")
	copyCmd.Flags().Int64Var(&copyMaxPutSize, "max-put-size", 0, "single-PUT size threshold in bytes (default 5 GiB)")
	rootCmd.AddCommand(copyCmd)
}
