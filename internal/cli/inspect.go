package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/portguard/internal/ports"
)

const enrichTimeout = 5 * time.Second

type inspectCommand struct {
	app      *App
	pid      uint32
	port     uint16
	protocol string
}

func newInspectCommand(app *App) *cobra.Command {
	ic := &inspectCommand{app: app}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show details of a process or a port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ic.pid == 0 && ic.port == 0 {
				return errors.New("one of --pid or --port is required")
			}
			return ic.Run()
		},
	}

	cmd.Flags().Uint32Var(&ic.pid, "pid", 0, "Process ID to inspect")
	cmd.Flags().Uint16Var(&ic.port, "port", 0, "Port to inspect")
	cmd.Flags().StringVar(&ic.protocol, "protocol", "", "Transport of --port: tcp or udp (default any)")
	cmd.MarkFlagsMutuallyExclusive("pid", "port")

	return cmd
}

// Run prints the requested details
func (ic *inspectCommand) Run() error {
	engine, err := ic.app.open(false)
	if err != nil {
		return err
	}
	if ic.pid != 0 {
		return ic.process(engine)
	}
	return ic.portDetails(engine)
}

func (ic *inspectCommand) process(engine *Engine) error {
	info, err := engine.Manager.Get(ic.pid)
	if err != nil {
		return err
	}

	w := ic.app.out
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s (PID %d)\n", info.Name, info.PID)
	fmt.Fprintf(w, "  Parent:    %d\n", info.PPID)
	fmt.Fprintf(w, "  User:      %s\n", info.Username)
	fmt.Fprintf(w, "  Status:    %s\n", info.Status)
	if info.Exe != "" {
		fmt.Fprintf(w, "  Exe:       %s\n", info.Exe)
	}
	if info.Cmdline != "" {
		fmt.Fprintf(w, "  Command:   %s\n", info.Cmdline)
	}
	if !info.CreateTime.IsZero() {
		fmt.Fprintf(w, "  Started:   %s\n", info.CreateTime.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  CPU:       %.1f%%\n", info.CPUPercent)
	fmt.Fprintf(w, "  Memory:    %.1f%% (%d bytes RSS)\n", info.MemPercent, info.MemRSS)
	fmt.Fprintf(w, "  Threads:   %d\n", info.NumThreads)

	if info.Protected {
		color.New(color.FgRed).Fprintf(w, "  Protected: %s\n", info.ProtectedReason)
	} else {
		fmt.Fprintln(w, "  Protected: no")
	}

	if engine.Units != nil {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()
		if unit, err := engine.Units.UnitForPID(ctx, ic.pid); err == nil {
			fmt.Fprintf(w, "  Unit:      %s (%s/%s)\n", unit.Name, unit.ActiveState, unit.SubState)
			if unit.IsMain {
				color.New(color.FgYellow).Fprintf(w, "  systemd may restart this process after termination\n")
			}
		}
	}
	return nil
}

func (ic *inspectCommand) portDetails(engine *Engine) error {
	transport, ok := ports.ParseTransport(ic.protocol)
	if !ok {
		return fmt.Errorf("invalid protocol %q: must be tcp or udp", ic.protocol)
	}

	views, err := engine.Scanner.FindByPort(ic.port, string(transport))
	if err != nil {
		return err
	}

	w := ic.app.out
	policy := engine.Manager.Policy()
	header := fmt.Sprintf("Port %d", ic.port)
	if policy.IsSystemPort(ic.port) {
		header += " (system port)"
	}
	color.New(color.Bold).Fprintln(w, header)

	if len(views) == 0 {
		fmt.Fprintln(w, "  not in use")
	}
	for _, v := range views {
		fmt.Fprintln(w, formatView(v, true))
		if v.HasOwner() {
			if d := policy.Check(v.OwnerPID); d.Protected {
				fmt.Fprintf(w, "      %s\n", protectionMarker(d))
			}
		}
	}

	if engine.Containers == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()
	list, err := engine.Containers.ContainersForPort(ctx, ic.port, string(transport))
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range list.Containers {
		fmt.Fprintf(w, "  container %s %s (%s) %s\n", c.ID, c.Name, c.Image, c.Status)
	}
	return nil
}
