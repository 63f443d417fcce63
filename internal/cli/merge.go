package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TOMATOFGY/oceanbase/internal/config"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	stream        streamFlags
	SourceBackend string
	SourcePath    string
	UpdateRestore bool
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge a peer replica's record into the local one",
		Long: `Merge the latest record of the same log stream held in a peer store.

Checkpoints, the replayable point, the rebuild epoch and every ID watermark
move to the larger of the two records. The restore status is copied from
the peer only with --update-restore.

Exit codes:
  0 - Merged
  1 - Rejected (identity mismatch, invalid source, log write failed)
  2 - Command error (peer store unreadable)

Examples:
  lsmeta merge --tenant 1002 --ls 1001 --source-path peer.db
  lsmeta merge --tenant 1002 --ls 1001 --source-backend badger --source-path ./peer --update-restore`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, cmd)
		},
	}

	opts.stream.bind(cmd)
	cmd.Flags().StringVar(&opts.SourceBackend, "source-backend", config.BackendSQLite, "peer store backend (sqlite|badger)")
	cmd.Flags().StringVar(&opts.SourcePath, "source-path", "", "peer store path (required)")
	cmd.Flags().BoolVar(&opts.UpdateRestore, "update-restore", false, "take the restore status from the peer")
	_ = cmd.MarkFlagRequired("source-path")

	return cmd
}

func runMerge(opts *MergeOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	key := opts.stream.key()

	src, err := readPeerRecord(cmd.Context(), config.StorageConfig{
		Backend: opts.SourceBackend,
		Path:    opts.SourcePath,
	}, key)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to read peer record", err))
	}
	f.VerboseLog("peer record: %s", src)

	return runOnStream(cmd, opts.RootOptions, &opts.stream, "merge", func(m *lsmeta.Meta) error {
		return m.UpdateLSMeta(opts.UpdateRestore, src)
	})
}

// readPeerRecord returns the newest decodable record of key in a peer store.
func readPeerRecord(ctx context.Context, storage config.StorageConfig, key share.StreamKey) (lsmeta.Record, error) {
	if storage.Backend == config.BackendMemory {
		return lsmeta.Record{}, fmt.Errorf("a memory peer store holds no records")
	}
	backend, err := openBackend(storage)
	if err != nil {
		return lsmeta.Record{}, err
	}
	defer backend.Close()

	entries, err := backend.History(ctx, key)
	if err != nil {
		return lsmeta.Record{}, err
	}
	if len(entries) == 0 {
		return lsmeta.Record{}, fmt.Errorf("ls %s: %w in peer store", key, lsmeta.ErrNotFound)
	}
	return entries[len(entries)-1].Record()
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Trim every stream's history to the newest entries",
		Long: `Trim the durable history of every live stream, keeping the newest
storage.keep entries (or --keep). Recovery only needs the newest entry.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			e, exitErr := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if exitErr != nil {
				return f.Fail(exitErr)
			}
			defer e.close()

			if cmd.Flags().Changed("keep") {
				if keep < 1 {
					return f.Fail(NewExitError(ExitCommandError, "--keep must be at least 1"))
				}
				e.cfg.Storage.Keep = keep
			}
			trimmed, err := e.svc.CompactTo(cmd.Context(), e.cfg.Storage.Keep)
			if err != nil {
				return f.Fail(rejected("compact failed", err))
			}
			return f.Success(map[string]any{"trimmed": trimmed, "keep": e.cfg.Storage.Keep})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "entries to keep per stream (default storage.keep)")
	return cmd
}
