package cli

import (
	"github.com/spf13/cobra"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// streamCommand builds a command that applies one mutation to one stream.
// apply is called after flags are parsed; a parse error it returns is a
// command error, not a rejection.
func streamCommand(
	rootOpts *RootOptions,
	use, short, example string,
	apply func() (func(m *lsmeta.Meta) error, error),
) (*cobra.Command, *streamFlags) {
	stream := &streamFlags{}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Example:       example,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := apply()
			if err != nil {
				return newFormatter(cmd, rootOpts).Fail(WrapExitError(ExitCommandError, "invalid flags", err))
			}
			return runOnStream(cmd, rootOpts, stream, use, fn)
		},
	}
	stream.bind(cmd)
	return cmd, stream
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		baseLSN   uint64
		scn       int64
		noPersist bool
	)
	cmd, _ := streamCommand(rootOpts, "checkpoint",
		"Advance the clog checkpoint pair",
		"  lsmeta checkpoint --tenant 1002 --ls 1001 --base-lsn 4096 --scn 200",
		func() (func(*lsmeta.Meta) error, error) {
			return func(m *lsmeta.Meta) error {
				return m.SetClogCheckpoint(share.LSN(baseLSN), share.SCN(scn), !noPersist)
			}, nil
		})
	cmd.Flags().Uint64Var(&baseLSN, "base-lsn", 0, "clog base LSN")
	cmd.Flags().Int64Var(&scn, "scn", 0, "clog checkpoint SCN (required)")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "update the live record without writing the log")
	_ = cmd.MarkFlagRequired("scn")
	return cmd
}

// NewMigrationCommand creates the migration command.
func NewMigrationCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status    string
		noPersist bool
	)
	cmd, _ := streamCommand(rootOpts, "migration",
		"Move the migration status along its transition table",
		"  lsmeta migration --tenant 1002 --ls 1001 --status PENDING_ADD",
		func() (func(*lsmeta.Meta) error, error) {
			s, err := hastatus.ParseMigrationStatus(status)
			if err != nil {
				return nil, err
			}
			return func(m *lsmeta.Meta) error { return m.SetMigrationStatus(s, !noPersist) }, nil
		})
	cmd.Flags().StringVar(&status, "status", "", "target migration status (required)")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "update the live record without writing the log")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd, _ := streamCommand(rootOpts, "restore",
		"Move the restore status along its transition table",
		"  lsmeta restore --tenant 1002 --ls 1001 --status RESTORING",
		func() (func(*lsmeta.Meta) error, error) {
			s, err := hastatus.ParseRestoreStatus(status)
			if err != nil {
				return nil, err
			}
			return func(m *lsmeta.Meta) error { return m.SetRestoreStatus(s) }, nil
		})
	cmd.Flags().StringVar(&status, "status", "", "target restore status (required)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	var state string
	cmd, _ := streamCommand(rootOpts, "gc",
		"Move the garbage collection state along its transition table",
		"  lsmeta gc --tenant 1002 --ls 1001 --state WAIT_GC",
		func() (func(*lsmeta.Meta) error, error) {
			s, err := hastatus.ParseGCState(state)
			if err != nil {
				return nil, err
			}
			return func(m *lsmeta.Meta) error { return m.SetGCState(s) }, nil
		})
	cmd.Flags().StringVar(&state, "state", "", "target gc state (required)")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

// scnCommand builds a command whose only argument is --scn.
func scnCommand(rootOpts *RootOptions, use, short, example string, set func(m *lsmeta.Meta, scn share.SCN) error) *cobra.Command {
	var scn int64
	cmd, _ := streamCommand(rootOpts, use, short, example,
		func() (func(*lsmeta.Meta) error, error) {
			return func(m *lsmeta.Meta) error { return set(m, share.SCN(scn)) }, nil
		})
	cmd.Flags().Int64Var(&scn, "scn", 0, "SCN (required)")
	_ = cmd.MarkFlagRequired("scn")
	return cmd
}

// NewOfflineCommand creates the offline command.
func NewOfflineCommand(rootOpts *RootOptions) *cobra.Command {
	return scnCommand(rootOpts, "offline",
		"Record the SCN at which the replica went offline",
		"  lsmeta offline --tenant 1002 --ls 1001 --scn 500",
		(*lsmeta.Meta).SetOfflineSCN)
}

// NewReplayableCommand creates the replayable command.
func NewReplayableCommand(rootOpts *RootOptions) *cobra.Command {
	return scnCommand(rootOpts, "replayable",
		"Raise the replayable point",
		"  lsmeta replayable --tenant 1002 --ls 1001 --scn 300",
		(*lsmeta.Meta).UpdateReplayableSCN)
}

// NewTabletCheckpointCommand creates the tablet-checkpoint command.
func NewTabletCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	return scnCommand(rootOpts, "tablet-checkpoint",
		"Raise the tablet change checkpoint",
		"  lsmeta tablet-checkpoint --tenant 1002 --ls 1001 --scn 250",
		(*lsmeta.Meta).SetTabletChangeCheckpointSCN)
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := streamCommand(rootOpts, "rebuild",
		"Mark the replica for rebuild and start a new rebuild epoch",
		"  lsmeta rebuild --tenant 1002 --ls 1001",
		func() (func(*lsmeta.Meta) error, error) {
			return (*lsmeta.Meta).MarkForRebuild, nil
		})
	return cmd
}

// NewIDCommand creates the id command.
func NewIDCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		service   string
		limitedID int64
		ts        int64
		noPersist bool
	)
	var cmd *cobra.Command
	cmd, _ = streamCommand(rootOpts, "id",
		"Show or raise the watermark of one ID service",
		`  lsmeta id --tenant 1002 --ls 1001 --service TRANS_ID
  lsmeta id --tenant 1002 --ls 1001 --service TRANS_ID --limited-id 5000 --ts 120`,
		func() (func(*lsmeta.Meta) error, error) {
			svc, err := idmeta.ParseServiceType(service)
			if err != nil {
				return nil, err
			}
			if !cmd.Flags().Changed("limited-id") {
				// Reading only validates that the service is tracked.
				return func(m *lsmeta.Meta) error {
					_, err := m.IDMeta(svc)
					return err
				}, nil
			}
			return func(m *lsmeta.Meta) error {
				return m.UpdateIDMeta(svc, limitedID, share.SCN(ts), !noPersist)
			}, nil
		})
	cmd.Flags().StringVar(&service, "service", "", "ID service (required)")
	cmd.Flags().Int64Var(&limitedID, "limited-id", 0, "new limited id")
	cmd.Flags().Int64Var(&ts, "ts", 0, "latest log timestamp of the new watermark")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "update the live record without writing the log")
	_ = cmd.MarkFlagRequired("service")
	cmd.MarkFlagsRequiredTogether("limited-id", "ts")
	return cmd
}

// NewBackupCheckCommand creates the backup-check command.
func NewBackupCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var stream streamFlags
	cmd := &cobra.Command{
		Use:   "backup-check",
		Short: "Check whether a backup may be taken of a log stream",
		Long: `Check whether a backup may be taken of a log stream.

Exit codes:
  0 - Backupable
  1 - Not backupable (migrating, restoring, in GC, or no checkpoint)
  2 - Command error`,
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

			m, err := e.svc.Get(stream.key())
			if err != nil {
				return f.Fail(rejected("backup check failed", err))
			}
			if err := m.CheckValidForBackup(); err != nil {
				return f.Fail(rejected("not backupable", err))
			}
			return f.Success(map[string]any{"ls": stream.key().String(), "backupable": true})
		},
	}
	stream.bind(cmd)
	return cmd
}

// NewSavedInfoCommand creates the saved-info command group.
func NewSavedInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved-info",
		Short: "Manage the saved checkpoint snapshot",
	}

	build, _ := streamCommand(rootOpts, "build",
		"Snapshot the current checkpoints into saved info",
		"  lsmeta saved-info build --tenant 1002 --ls 1001",
		func() (func(*lsmeta.Meta) error, error) {
			return (*lsmeta.Meta).BuildSavedInfo, nil
		})
	show, _ := streamCommand(rootOpts, "show",
		"Show the saved checkpoint snapshot",
		"  lsmeta saved-info show --tenant 1002 --ls 1001",
		func() (func(*lsmeta.Meta) error, error) {
			return func(m *lsmeta.Meta) error {
				_, err := m.SavedInfo()
				return err
			}, nil
		})
	clearCmd, _ := streamCommand(rootOpts, "clear",
		"Drop the saved checkpoint snapshot",
		"  lsmeta saved-info clear --tenant 1002 --ls 1001",
		func() (func(*lsmeta.Meta) error, error) {
			return (*lsmeta.Meta).ClearSavedInfo, nil
		})

	cmd.AddCommand(build, show, clearCmd)
	return cmd
}
