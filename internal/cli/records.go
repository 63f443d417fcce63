package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	stream    streamFlags
	Replica   string
	Migration string
	Restore   string
	CreateSCN int64
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the metadata record of a log stream",
		Long: `Create and persist the metadata record of a new log stream replica.

The record starts with its clog checkpoint and tablet change checkpoint at
the create SCN and is marked CREATED once its first entry is durable.

Exit codes:
  0 - Record created
  1 - Rejected (already exists, invalid argument, log write failed)
  2 - Command error

Examples:
  lsmeta create --tenant 1002 --ls 1001 --create-scn 100
  lsmeta create --tenant 1002 --ls 1001 --create-scn 100 --restore WAIT_RESTORE`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	opts.stream.bind(cmd)
	cmd.Flags().StringVar(&opts.Replica, "replica", "PRIMARY", "replica type")
	cmd.Flags().StringVar(&opts.Migration, "migration", "NONE", "initial migration status")
	cmd.Flags().StringVar(&opts.Restore, "restore", "NONE", "initial restore status")
	cmd.Flags().Int64Var(&opts.CreateSCN, "create-scn", 0, "create SCN (required)")
	_ = cmd.MarkFlagRequired("create-scn")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	replica, err := share.ParseReplicaType(opts.Replica)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid --replica", err))
	}
	migration, err := hastatus.ParseMigrationStatus(opts.Migration)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid --migration", err))
	}
	restore, err := hastatus.ParseRestoreStatus(opts.Restore)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid --restore", err))
	}

	e, exitErr := openEnv(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
	if exitErr != nil {
		return f.Fail(exitErr)
	}
	defer e.close()

	key := opts.stream.key()
	m, err := e.svc.Create(key.TenantID, key.LSID, replica, migration, restore, share.SCN(opts.CreateSCN))
	if err != nil {
		return f.Fail(rejected("create failed", err))
	}
	f.VerboseLog("created ls %s", key)
	return f.Success(lsmeta.RecordMap(m.Snapshot()))
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var stream streamFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the metadata record of a log stream",
		Example: `  lsmeta show --tenant 1002 --ls 1001
  lsmeta show --tenant 1002 --ls 1001 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnStream(cmd, rootOpts, &stream, "show", func(*lsmeta.Meta) error { return nil })
		},
	}
	stream.bind(cmd)
	return cmd
}

// ListResult is the JSON payload of the list command.
type ListResult struct {
	Streams []map[string]any `json:"streams"`
	Total   int              `json:"total"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every live log stream record",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	e, exitErr := openEnv(cmd.Context(), opts, cmd.ErrOrStderr())
	if exitErr != nil {
		return f.Fail(exitErr)
	}
	defer e.close()

	recs, err := e.svc.List()
	if err != nil {
		return f.Fail(rejected("list failed", err))
	}

	if opts.Format == "json" {
		result := ListResult{Streams: make([]map[string]any, 0, len(recs)), Total: len(recs)}
		for _, rec := range recs {
			result.Streams = append(result.Streams, lsmeta.RecordMap(rec))
		}
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(w, "No log streams found.")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintln(w, recordLine(rec))
	}
	fmt.Fprintf(w, "\n%d stream(s)\n", len(recs))
	return nil
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var stream streamFlags

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Mark a log stream record removed",
		Long: `Mark a log stream record REMOVED and trim its history to the final entry.

A removed stream is not recovered on the next start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			e, exitErr := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if exitErr != nil {
				return f.Fail(exitErr)
			}
			defer e.close()

			if err := e.svc.Remove(cmd.Context(), stream.key()); err != nil {
				return f.Fail(rejected("remove failed", err))
			}
			return f.Success(map[string]any{"removed": stream.key().String()})
		},
	}
	stream.bind(cmd)
	return cmd
}
