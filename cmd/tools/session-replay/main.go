// cmd/tools/session-replay/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"assessment-sync/internal/assessment/replay"
	"assessment-sync/internal/assessment/scheduler"
	"assessment-sync/internal/assessment/session"
	"assessment-sync/internal/common/config"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/observability"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"
	"assessment-sync/pkg/catalog"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	scriptPath string
	baseURL    string
	userID     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "session-replay",
		Short:        "Replay a scripted editing session against the assessment API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
			obs := observability.New("session-replay")
			defer obs.Shutdown()

			return replaySession(ctx, cfg, opts.scriptPath, log, obs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Config file (default: configs/config.yaml lookup)")
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Edit script (YAML)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Override remote.base_url")
	cmd.Flags().StringVar(&opts.userID, "user", "", "Override remote.user_id")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.baseURL != "" {
		cfg.Remote.BaseURL = opts.baseURL
	}
	if opts.userID != "" {
		cfg.Remote.UserID = opts.userID
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func replaySession(ctx context.Context, cfg *config.Config, scriptPath string, log logger.Logger, obs *observability.Observability, out io.Writer) error {
	script, err := replay.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if err := script.Check(cat); err != nil {
		return err
	}

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.UserID, config.GetDuration(cfg.Remote.Timeout), log)
	sess, err := session.Open(ctx, client, cat, session.Options{
		Config:        scheduler.ConfigFrom(cfg.Session),
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if err := replay.Run(ctx, script, sess); err != nil {
		return err
	}

	scores := sess.Scores()
	fmt.Fprintf(out, "application %s: status=%s overall=%.1f completion=%.1f%%\n",
		sess.ApplicationID(), sess.Status(), scores.Overall, scores.Completion)
	if !script.Submit {
		for step := models.InstitutionStep; step <= models.LastStep; step++ {
			if v := sess.LocalValidateStep(step); !v.IsValid {
				fmt.Fprintf(out, "  step %d incomplete: %v\n", step, v.MissingItems)
			}
		}
	}
	return nil
}
