package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
)

// ErrAborted is returned when the user declines a confirmation prompt
var ErrAborted = errors.New("aborted")

// ErrIncomplete is returned when at least one process could not be terminated
var ErrIncomplete = errors.New("not every process was terminated")

type killCommand struct {
	app         *App
	pid         uint32
	port        uint16
	protocol    string
	force       bool
	allowSystem bool
	yes         bool
	timeout     time.Duration
}

func newKillCommand(app *App) *cobra.Command {
	kc := &killCommand{app: app}

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Terminate a process, or every process holding a port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("pid") && !cmd.Flags().Changed("port") {
				return errors.New("one of --pid or --port is required")
			}
			if kc.pid == 0 && kc.port == 0 {
				return errors.New("--pid and --port must be positive")
			}
			return kc.Run()
		},
	}

	cmd.Flags().Uint32Var(&kc.pid, "pid", 0, "Process ID to terminate")
	cmd.Flags().Uint16Var(&kc.port, "port", 0, "Free this port by terminating its owners")
	cmd.Flags().StringVar(&kc.protocol, "protocol", "tcp", "Transport of --port: tcp or udp")
	cmd.Flags().BoolVarP(&kc.force, "force", "f", false, "Send SIGKILL immediately and skip confirmation")
	cmd.Flags().BoolVar(&kc.allowSystem, "allow-system", false, "Allow freeing the configured system ports")
	cmd.Flags().BoolVarP(&kc.yes, "yes", "y", false, "Skip confirmation")
	cmd.Flags().DurationVar(&kc.timeout, "timeout", 0, "How long to wait for exit (default KILL_TIMEOUT_SECONDS)")
	cmd.MarkFlagsMutuallyExclusive("pid", "port")

	return cmd
}

// Run terminates the target and prints every outcome
func (kc *killCommand) Run() error {
	if _, ok := ports.ParseTransport(kc.protocol); !ok || kc.protocol == "" {
		return fmt.Errorf("invalid protocol %q: must be tcp or udp", kc.protocol)
	}

	cfg, err := kc.app.config()
	if err != nil {
		return err
	}
	if kc.allowSystem {
		cfg.AllowSystemPorts = true
	}

	engine, err := kc.app.open(false)
	if err != nil {
		return err
	}

	var outcomes []process.TerminationOutcome
	if kc.port != 0 {
		if !kc.previewPort(engine) {
			return ErrAborted
		}
		outcomes = engine.Manager.TerminateByPort(kc.port, kc.protocol, kc.force)
	} else {
		if !kc.previewPID(engine) {
			return ErrAborted
		}
		outcomes = []process.TerminationOutcome{engine.Manager.TerminateByPID(kc.pid, kc.force, kc.timeout)}
	}

	engine.Metrics.ObserveOutcomes(outcomes...)
	printOutcomes(kc.app.out, outcomes)

	for _, o := range outcomes {
		if o.Kind != process.KindSuccess && o.Kind != process.KindAlreadyTerminated {
			return ErrIncomplete
		}
	}
	return nil
}

func (kc *killCommand) skipConfirm() bool {
	return kc.force || kc.yes
}

// previewPort lists the port's owners and asks for confirmation. An empty or
// failed lookup still proceeds so the manager reports the outcome.
func (kc *killCommand) previewPort(engine *Engine) bool {
	views, err := engine.Scanner.FindByPort(kc.port, kc.protocol)
	if err != nil || len(views) == 0 {
		return true
	}

	policy := engine.Manager.Policy()
	transport, _ := ports.ParseTransport(kc.protocol)
	fmt.Fprintf(kc.app.out, "Processes holding %s port %d:\n", transport, kc.port)
	seen := make(map[uint32]bool)
	for _, v := range views {
		if !v.HasOwner() || seen[v.OwnerPID] {
			continue
		}
		seen[v.OwnerPID] = true
		fmt.Fprintf(kc.app.out, "  %-8d %-24s %s\n", v.OwnerPID, v.ProcessName(), protectionMarker(policy.Check(v.OwnerPID)))
	}
	if policy.IsSystemPort(kc.port) && !engine.Manager.AllowSystemPorts() {
		color.New(color.FgYellow).Fprintf(kc.app.out, "Port %d is a system port; pass --allow-system to free it\n", kc.port)
	}

	if kc.skipConfirm() {
		return true
	}
	return kc.app.confirm(fmt.Sprintf("Terminate %d process(es)?", len(seen)))
}

func (kc *killCommand) previewPID(engine *Engine) bool {
	if kc.skipConfirm() {
		return true
	}
	name := "unknown"
	if info, err := engine.Manager.Get(kc.pid); err == nil {
		name = info.Name
	}
	return kc.app.confirm(fmt.Sprintf("Terminate %s (PID %d)?", name, kc.pid))
}

func protectionMarker(d process.Decision) string {
	if d.Protected {
		return color.New(color.FgRed).Sprintf("[protected: %s]", d.Reason)
	}
	return ""
}

func printOutcomes(w io.Writer, outcomes []process.TerminationOutcome) {
	for _, o := range outcomes {
		kind := kindColor(o.Kind).Sprint(fmt.Sprintf("%-18s", o.Kind))
		fmt.Fprintf(w, "%s PID %-8d %s (%s)\n", kind, o.PID, o.Message, o.Elapsed.Round(time.Millisecond))
	}
	if len(outcomes) > 1 {
		fmt.Fprintf(w, "%d processes: %s\n", len(outcomes), describeOutcomes(outcomes))
	}
}

func kindColor(k process.Kind) *color.Color {
	switch k {
	case process.KindSuccess, process.KindAlreadyTerminated:
		return color.New(color.FgGreen)
	case process.KindTimeout, process.KindProtected:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgRed)
}

// describeOutcomes summarizes outcome kinds, e.g. "2 SUCCESS, 1 PROTECTED"
func describeOutcomes(outcomes []process.TerminationOutcome) string {
	counts := make(map[process.Kind]int)
	var order []process.Kind
	for _, o := range outcomes {
		if counts[o.Kind] == 0 {
			order = append(order, o.Kind)
		}
		counts[o.Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return strings.Join(parts, ", ")
}
