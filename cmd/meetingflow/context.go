package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/entities"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// withStore opens the database for the duration of fn.
func (c *commandContext) withStore(fn func(cfg *config.Config, st *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(cfg, st)
}

func (c *commandContext) withTracker(fn func(cfg *config.Config, tracker *state.Tracker) error) error {
	return c.withStore(func(cfg *config.Config, st *store.Store) error {
		return fn(cfg, state.NewTracker(st, cfg.HeartbeatTimeout()))
	})
}

func (c *commandContext) withResolver(fn func(st *store.Store, resolver *entities.Resolver) error) error {
	return c.withStore(func(cfg *config.Config, st *store.Store) error {
		return fn(st, entities.NewResolver(st, cfg.Entities.FuzzyThreshold))
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
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
