package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelflow/internal/config"
	"reelflow/internal/daemonrun"
	"reelflow/internal/logging"
)

// annotationOffline marks commands that must run without a loaded config,
// such as writing or validating the config file itself.
const annotationOffline = "reelflow.offline"

// commandContext carries the persistent flags and the lazily loaded
// configuration shared by every subcommand.
type commandContext struct {
	configPath string
	logLevel   string

	load sync.Once
	cfg  *config.Config
	err  error
}

// ensureConfig loads the configuration once and creates its directories.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.load.Do(func() {
		cfg, _, _, err := config.Load(c.requestedConfig())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		c.cfg, c.err = cfg, err
		if err != nil {
			c.cfg = nil
		}
	})
	return c.cfg, c.err
}

func (c *commandContext) requestedConfig() string {
	return strings.TrimSpace(c.configPath)
}

// levelOr returns the --log-level override, or fallback when unset.
func (c *commandContext) levelOr(fallback string) string {
	if lvl := strings.TrimSpace(c.logLevel); lvl != "" {
		return lvl
	}
	return fallback
}

// withRuntime opens the store and wires the engine in-process for one
// command. Logs go to stderr at warn level unless overridden so stdout only
// carries command output.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:   c.levelOr("warn"),
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	rt, err := daemonrun.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func offline(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationOffline] = "true"
	return cmd
}

func isOffline(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[annotationOffline] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
