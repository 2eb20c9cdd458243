package cli

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/portguard/config"
	"github.com/ngenohkevin/portguard/internal/server"
)

// App carries the shared state of all commands
type App struct {
	in  *bufio.Reader
	out io.Writer

	loadConfig func() (*config.Config, error)
	newEngine  func(cfg *config.Config) (*Engine, error)

	cfg    *config.Config
	engine *Engine
}

// NewApp creates an app reading from stdin and writing to stdout
func NewApp() *App {
	return &App{
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
		loadConfig: config.Load,
		newEngine:  NewEngine,
	}
}

// Execute runs the command line
func Execute() error {
	app := NewApp()
	defer app.close()
	return NewRootCommand(app).Execute()
}

// NewRootCommand builds the portguard command tree
func NewRootCommand(app *App) *cobra.Command {
	var noColor bool

	root := &cobra.Command{
		Use:           "portguard",
		Short:         "Find what holds a port and free it safely",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	root.SetOut(app.out)
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newScanCommand(app),
		newKillCommand(app),
		newInspectCommand(app),
		newServeCommand(app),
		newTUICommand(app),
		newKeygenCommand(app),
	)

	return root
}

// config loads configuration once per invocation
func (a *App) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

// open builds the engine. Interactive commands keep manager logging out of
// the terminal unless LOG_LEVEL=debug.
func (a *App) open(interactive bool) (*Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	if interactive && cfg.LogLevel != "debug" {
		log.SetOutput(io.Discard)
	}

	engine, err := a.newEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	a.engine = engine
	return engine, nil
}

func (a *App) close() {
	if a.engine != nil {
		a.engine.Close()
	}
}

// confirm asks a yes/no question; anything but y/yes declines
func (a *App) confirm(question string) bool {
	fmt.Fprintf(a.out, "%s [y/N]: ", question)
	answer, err := a.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func newKeygenCommand(app *App) *cobra.Command {
	var (
		token bool
		scope string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key, or a scoped token for the HTTP agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !token {
				key, err := config.GenerateAPIKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.out, key)
				return nil
			}

			scopes, err := server.ParseScopes(scope)
			if err != nil {
				return err
			}
			cfg, err := app.config()
			if err != nil {
				return err
			}
			signed, err := server.NewAuthService(cfg.APIKey, cfg.JWTSecret).GenerateToken(scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, signed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&token, "token", false, "Sign a token with JWT_SECRET instead of generating an API key")
	cmd.Flags().StringVar(&scope, "scope", string(server.ScopeRead), "Token scopes: read, terminate")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
