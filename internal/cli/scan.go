package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/portguard/internal/ports"
)

// DefaultLimit is how many rows scan prints per transport
const DefaultLimit = 50

type scanCommand struct {
	app       *App
	all       bool
	port      uint16
	portRange string
	protocol  string
	listening bool
	details   bool
	limit     int
}

func newScanCommand(app *App) *cobra.Command {
	sc := &scanCommand{app: app}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List sockets and the processes that own them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc.all = sc.all || (!cmd.Flags().Changed("port") && sc.portRange == "")
			return sc.Run()
		},
	}

	cmd.Flags().BoolVar(&sc.all, "all", false, "Scan every socket (default)")
	cmd.Flags().Uint16Var(&sc.port, "port", 0, "Only sockets bound to this port")
	cmd.Flags().StringVar(&sc.portRange, "range", "", "Only sockets in the inclusive range A-B")
	cmd.Flags().StringVar(&sc.protocol, "protocol", "", "tcp or udp (default any)")
	cmd.Flags().BoolVar(&sc.listening, "listening", false, "Only listening sockets")
	cmd.Flags().BoolVar(&sc.details, "details", false, "Show remote endpoint, user and command line")
	cmd.Flags().IntVar(&sc.limit, "limit", DefaultLimit, "Maximum rows per transport, 0 for no limit")
	cmd.MarkFlagsMutuallyExclusive("all", "port", "range")

	return cmd
}

// Run performs the scan and prints the result
func (sc *scanCommand) Run() error {
	transport, ok := ports.ParseTransport(sc.protocol)
	if !ok {
		return fmt.Errorf("invalid protocol %q: must be tcp or udp", sc.protocol)
	}

	var start, end uint16
	if sc.portRange != "" {
		var err error
		if start, end, err = ParseRange(sc.portRange); err != nil {
			return err
		}
	}

	engine, err := sc.app.open(false)
	if err != nil {
		return err
	}

	var views []ports.PortView
	switch {
	case sc.portRange != "":
		views, err = engine.Scanner.ScanRange(start, end, string(transport))
	case !sc.all:
		views, err = engine.Scanner.FindByPort(sc.port, string(transport))
	case sc.listening:
		views, err = engine.Scanner.ScanListening()
	default:
		views, err = engine.Scanner.ScanAll()
	}
	if err != nil {
		return err
	}

	if sc.listening {
		views = ports.FilterListening(views)
	}
	if sc.all && transport != "" {
		views = ports.FilterTransport(views, string(transport))
	}

	printViews(sc.app.out, views, sc.details, sc.limit)
	return nil
}

// ParseRange parses an inclusive "A-B" port range
func ParseRange(s string) (uint16, uint16, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q: expected A-B", s)
	}
	start, err := parsePort(lo)
	if err != nil {
		return 0, 0, err
	}
	end, err := parsePort(hi)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid range %q: start exceeds end", s)
	}
	return start, end, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

func printViews(w io.Writer, views []ports.PortView, details bool, limit int) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No sockets found")
		return
	}

	for _, t := range []ports.Transport{ports.TCP, ports.UDP} {
		group := ports.FilterTransport(views, string(t))
		if len(group) == 0 {
			continue
		}

		color.New(color.Bold).Fprintf(w, "%s (%d)\n", t, len(group))
		shown := group
		if limit > 0 && len(group) > limit {
			shown = group[:limit]
		}
		for _, v := range shown {
			fmt.Fprintln(w, formatView(v, details))
		}
		if len(shown) < len(group) {
			fmt.Fprintf(w, "  ... and %d more\n", len(group)-len(shown))
		}
		fmt.Fprintln(w)
	}
}

func formatView(v ports.PortView, details bool) string {
	pid := "-"
	if v.HasOwner() {
		pid = strconv.FormatUint(uint64(v.OwnerPID), 10)
	}
	name := v.ProcessName()
	if name == "" {
		name = "-"
	}

	// Pad before coloring so escape codes do not break alignment
	state := stateColor(v.State).Sprint(fmt.Sprintf("%-12s", v.State))
	line := fmt.Sprintf("  %-6d %-28s %s %-8s %s", v.LocalPort, v.Endpoint(), state, pid, name)

	if !details {
		return line
	}
	if remote := v.RemoteEndpoint(); remote != "" {
		line += "\n      remote: " + remote
	}
	if v.Process != nil {
		if v.Process.Username != "" {
			line += "\n      user:   " + v.Process.Username
		}
		if v.Process.CommandLine != "" {
			line += "\n      cmd:    " + v.Process.CommandLine
		}
	}
	return line
}

func stateColor(s ports.State) *color.Color {
	switch s {
	case ports.StateListen:
		return color.New(color.FgGreen)
	case ports.StateEstablished:
		return color.New(color.FgBlue)
	case ports.StateTimeWait:
		return color.New(color.FgYellow)
	case ports.StateCloseWait:
		return color.New(color.FgRed)
	}
	return color.New(color.Reset)
}
