// Package commands implements the reminderctl subcommands.
package commands

import (
	"fmt"
	"os"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/config"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/logger"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/services/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env holds what a subcommand needs; close releases it
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  database.Store
}

func loadEnv(cmd *cobra.Command, withStore bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	log, err := logger.NewDevelopmentLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	e := &env{cfg: cfg, logger: log}
	if withStore {
		e.store, err = database.Open(cmd.Context(), cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}
	_ = logger.Sync(e.logger)
}

func (e *env) resolver(debug bool) *nlp.Resolver {
	var primary nlp.Provider
	if e.cfg.AIEnabled {
		primary = nlp.NewOpenAIProvider(e.cfg.OpenAIKey, e.cfg.AIBaseURL, e.cfg.AIModel, e.logger, debug)
	}
	return nlp.NewResolver(primary, clock.New(), e.cfg.Location, e.cfg.NLPTimeout, e.logger)
}

// service builds a task service whose reminders are stored pending, for a
// running server to arm when it next rehydrates
func (e *env) service(cmd *cobra.Command) (*tasks.Service, error) {
	pol, err := e.cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid reminder policy: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	clk := clock.New()
	return tasks.NewService(e.store, e.resolver(debug), pol, tasks.NewPendingScheduler(e.store, clk), clk, e.logger, tasks.Options{
		RecentTasks: e.cfg.RecentTasks,
	}), nil
}
