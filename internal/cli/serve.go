package cli

import (
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/portguard/internal/server"
	"github.com/ngenohkevin/portguard/internal/tui"
)

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}
			engine, err := app.open(false)
			if err != nil {
				return err
			}
			return server.New(cfg, engine.Deps).Run()
		},
	}
}

func newTUICommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Browse and free ports interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}
			engine, err := app.open(true)
			if err != nil {
				return err
			}

			return tui.Run(tui.New(tui.Options{
				Scanner:         engine.Scanner,
				Terminator:      engine.Manager,
				Metrics:         engine.Metrics,
				Host:            engine.Host,
				RefreshInterval: cfg.RefreshInterval,
			}))
		},
	}
}
