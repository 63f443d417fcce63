package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TOMATOFGY/oceanbase/internal/config"
	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/kvstore"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
	"github.com/TOMATOFGY/oceanbase/internal/memlog"
	"github.com/TOMATOFGY/oceanbase/internal/metrics"
	"github.com/TOMATOFGY/oceanbase/internal/share"
	"github.com/TOMATOFGY/oceanbase/internal/store"
)

// env is everything a command needs once configuration is resolved.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry // nil when metrics are disabled
	backend  lsservice.Backend
	svc      *lsservice.Service
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	if opts.Path != "" {
		cfg.Storage.Path = opts.Path
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openBackend(storage config.StorageConfig) (lsservice.Backend, error) {
	switch storage.Backend {
	case config.BackendSQLite:
		st, err := store.Open(storage.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger:
		kv, err := kvstore.Open(storage.Path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case config.BackendMemory:
		return memlog.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", storage.Backend)
	}
}

// openEnv loads configuration, opens the backend and recovers every
// stream. Logs go to logOut.
func openEnv(ctx context.Context, opts *RootOptions, logOut io.Writer) (*env, *ExitError) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := cfg.Log.NewLogger(logOut)

	metaOpts := []lsmeta.Option{lsmeta.WithWarnThreshold(cfg.Guard.WarnThreshold)}
	if cfg.Policy.File != "" {
		policy, err := hastatus.LoadPolicyFile(cfg.Policy.File)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		metaOpts = append(metaOpts, lsmeta.WithPolicy(policy))
	}

	var registry *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		m = metrics.NewMetrics(registry)
	}

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("failed to open %s backend", cfg.Storage.Backend), err)
	}
	svc := lsservice.New(backend, lsservice.Config{
		Logger:      logger,
		Metrics:     m,
		MetaOptions: metaOpts,
		KeepEntries: cfg.Storage.Keep,
	})
	if err := svc.Recover(ctx); err != nil {
		_ = backend.Close()
		return nil, WrapExitError(ExitCommandError, "failed to recover ls meta", err)
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		backend:  backend,
		svc:      svc,
	}, nil
}

func (e *env) close() error {
	return e.svc.Close()
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// streamFlags binds the --tenant and --ls flags that select one stream.
type streamFlags struct {
	tenant uint64
	ls     int64
}

func (s *streamFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&s.tenant, "tenant", 0, "tenant id (required)")
	cmd.Flags().Int64Var(&s.ls, "ls", 0, "log stream id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("ls")
}

func (s *streamFlags) key() share.StreamKey {
	return share.StreamKey{TenantID: share.TenantID(s.tenant), LSID: share.LSID(s.ls)}
}

// runOnStream recovers the backend, applies fn to one stream and prints
// the resulting record.
func runOnStream(cmd *cobra.Command, opts *RootOptions, sf *streamFlags, op string, fn func(m *lsmeta.Meta) error) error {
	f := newFormatter(cmd, opts)
	e, exitErr := openEnv(cmd.Context(), opts, cmd.ErrOrStderr())
	if exitErr != nil {
		return f.Fail(exitErr)
	}
	defer e.close()

	m, err := e.svc.Get(sf.key())
	if err != nil {
		return f.Fail(rejected(op+" failed", err))
	}
	if err := fn(m); err != nil {
		return f.Fail(rejected(op+" failed", err))
	}
	f.VerboseLog("%s applied to ls %s", op, sf.key())
	return f.Success(lsmeta.RecordMap(m.Snapshot()))
}
