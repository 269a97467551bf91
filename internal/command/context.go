package command

import (
	"database/sql"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/convsync"
	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/db"
	"github.com/adamavenir/inbox/internal/hostedsync"
	"github.com/adamavenir/inbox/internal/logging"
	"github.com/adamavenir/inbox/internal/metrics"
	"github.com/adamavenir/inbox/internal/notify"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Config     core.Config
	ConfigPath string
	ConfigDir  string
	JSONMode   bool
	Log        zerolog.Logger

	closers []func() error
}

// GetContext loads config and builds the logger. logFile, when set, is used
// if the config names no log file; commands that own the terminal pass one.
func GetContext(cmd *cobra.Command, logFile string) (*CommandContext, error) {
	configPath, _ := cmd.Flags().GetString("config")
	levelFlag, _ := cmd.Flags().GetString("log-level")
	jsonMode, _ := cmd.Flags().GetBool("json")

	if configPath == "" {
		defaultPath, err := core.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = defaultPath
	}
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}

	ctx := &CommandContext{
		Config:     cfg,
		ConfigPath: configPath,
		ConfigDir:  filepath.Dir(configPath),
		JSONMode:   jsonMode,
	}

	opts := logging.FromConfig(cfg.Log)
	if opts.File == "" && logFile != "" {
		opts.File = filepath.Join(ctx.ConfigDir, logFile)
	}
	var stderr io.Writer = cmd.ErrOrStderr()
	log, closeLog, err := logging.New(opts, stderr)
	if err != nil {
		return nil, err
	}
	ctx.Log = log
	ctx.closers = append(ctx.closers, closeLog)
	return ctx, nil
}

// Close releases everything the context opened, newest first.
func (c *CommandContext) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}

// Client resolves the API url and token from config, falling back to saved
// credentials.
func (c *CommandContext) Client() (*hostedsync.Client, error) {
	url, token := c.Config.API.URL, c.Config.API.Token
	if url == "" || token == "" {
		creds, err := hostedsync.LoadCredentials(c.ConfigDir)
		if err != nil {
			return nil, err
		}
		if creds != nil {
			if url == "" {
				url = creds.URL
			}
			if token == "" {
				token = creds.Token
			}
		}
	}
	if url == "" {
		return nil, errNotLoggedIn
	}
	return hostedsync.NewClient(url, token, c.Config.API.Timeout.Duration)
}

// OpenCache opens the snapshot cache, or returns nil when no path is set.
func (c *CommandContext) OpenCache() (*db.SnapshotCache, *sql.DB, error) {
	if c.Config.Cache.Path == "" {
		return nil, nil, nil
	}
	conn, err := db.OpenDatabase(c.Config.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	c.closers = append(c.closers, conn.Close)
	return db.NewSnapshotCache(conn, c.Config.Cache.MaxConversations), conn, nil
}

// NewSession wires a sync session with the cache, metrics and desktop
// notifications from config.
func (c *CommandContext) NewSession(listener convsync.Listener, engine *metrics.Engine, desktop bool) (*convsync.Session, error) {
	client, err := c.Client()
	if err != nil {
		return nil, err
	}
	opts := convsync.OptionsFromConfig(c.Config)
	opts.API = client
	opts.Listener = listener
	opts.Metrics = engine
	opts.Logger = c.Log

	cache, _, err := c.OpenCache()
	if err != nil {
		c.Log.Warn().Err(err).Str("path", c.Config.Cache.Path).Msg("Snapshot cache unavailable, keeping snapshots in memory")
	} else if cache != nil {
		opts.Cache = cache
	}
	if desktop && c.Config.Notify.Enabled {
		opts.Notifier = notify.NewDesktop(c.Config.Notify)
	}
	return convsync.NewSession(opts)
}
