package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the path of the YAML config file. A missing file is not an
	// error; defaults and LSMETA_* variables still apply.
	Config string

	// Backend and Path override storage.backend and storage.path.
	Backend string
	Path    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lsmeta CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lsmeta",
		Short: "lsmeta - log stream replica metadata",
		Long: `Inspect and maintain the durable metadata records of log stream replicas.

Every mutating command opens the configured backend, recovers the latest
record of every stream, applies one operation and exits.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "lsmeta.yaml", "config file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend override (sqlite|badger|memory)")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "storage path override")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewMigrationCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewGCCommand(opts))
	cmd.AddCommand(NewOfflineCommand(opts))
	cmd.AddCommand(NewReplayableCommand(opts))
	cmd.AddCommand(NewTabletCheckpointCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewIDCommand(opts))
	cmd.AddCommand(NewBackupCheckCommand(opts))
	cmd.AddCommand(NewSavedInfoCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
