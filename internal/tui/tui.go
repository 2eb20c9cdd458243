package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ngenohkevin/portguard/internal/metrics"
	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
	"github.com/ngenohkevin/portguard/internal/system"
)

// DefaultRefreshInterval is used when Options.RefreshInterval is unset
const DefaultRefreshInterval = 3 * time.Second

// Scanner produces full socket scans
type Scanner interface {
	ScanAll() ([]ports.PortView, error)
}

// Terminator terminates a single process
type Terminator interface {
	TerminateByPID(pid uint32, force bool, timeout time.Duration) process.TerminationOutcome
}

// HostInfoProvider returns host identification for the header
type HostInfoProvider interface {
	HostInfo() (*system.HostInfo, error)
}

// Options configures the model. Metrics and Host are optional.
type Options struct {
	Scanner         Scanner
	Terminator      Terminator
	Metrics         *metrics.Metrics
	Host            HostInfoProvider
	RefreshInterval time.Duration
}

type tickMsg time.Time

type scanMsg struct {
	views []ports.PortView
	err   error
}

type killMsg struct {
	outcome process.TerminationOutcome
}

// Model is the bubbletea model of the port browser
type Model struct {
	opts Options

	table       table.Model
	filterInput textinput.Model
	filtering   bool

	views   []ports.PortView
	visible []ports.PortView
	host    string

	listeningOnly bool
	transport     ports.Transport
	scanning      bool

	confirming bool
	killing    bool
	killPID    uint32
	killName   string
	killForce  bool

	status string
	width  int
	height int
}

// New creates the model
func New(opts Options) Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	ti := textinput.New()
	ti.Placeholder = "port, process or state..."
	ti.CharLimit = 50
	ti.Width = 30

	m := Model{
		opts:        opts,
		filterInput: ti,
	}
	m.initTable()
	m.host = m.hostLine()
	return m
}

// Run starts the program on the alternate screen and blocks until quit
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) initTable() {
	columns := []table.Column{
		{Title: "Proto", Width: 6},
		{Title: "Port", Width: 7},
		{Title: "Local", Width: 24},
		{Title: "Remote", Width: 24},
		{Title: "State", Width: 12},
		{Title: "PID", Width: 8},
		{Title: "Process", Width: 20},
		{Title: "User", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(tableStyles(ports.StateUnknown))
	m.table = t
}

func (m Model) hostLine() string {
	if m.opts.Host == nil {
		return ""
	}
	info, err := m.opts.Host.HostInfo()
	if err != nil {
		return ""
	}
	line := fmt.Sprintf("%s (%s %s) up %s", info.Hostname, info.Platform, info.PlatformVersion, info.UptimeHuman)
	if !info.Privileged {
		line += " • unprivileged, some sockets may be unattributed"
	}
	return line
}

// Init starts the refresh timer and the first scan
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.scan())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// scan runs ScanAll off the update loop and reports back with a scanMsg
func (m Model) scan() tea.Cmd {
	scanner := m.opts.Scanner
	return func() tea.Msg {
		views, err := scanner.ScanAll()
		return scanMsg{views: views, err: err}
	}
}

func (m Model) kill(pid uint32, force bool) tea.Cmd {
	terminator := m.opts.Terminator
	return func() tea.Msg {
		return killMsg{outcome: terminator.TerminateByPID(pid, force, 0)}
	}
}

// Update handles a message
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.confirming {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "y", "Y":
				m.confirming = false
				m.killing = true
				m.status = fmt.Sprintf("Terminating %s (PID %d)...", m.killName, m.killPID)
				return m, m.kill(m.killPID, m.killForce)
			case "n", "N", "esc":
				m.confirming = false
				m.killPID = 0
				m.status = "Cancelled"
				return m, nil
			}
			return m, nil
		}
	}

	if m.filtering {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter", "esc":
				m.filtering = false
				m.filterInput.Blur()
				m.updateRows()
				return m, nil
			}
			m.filterInput, cmd = m.filterInput.Update(msg)
			m.updateRows()
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.filtering = true
			m.filterInput.Focus()
			return m, textinput.Blink
		case "l":
			m.listeningOnly = !m.listeningOnly
			m.updateRows()
			return m, nil
		case "t":
			m.transport = nextTransport(m.transport)
			m.updateRows()
			return m, nil
		case "r":
			return m.refresh()
		case "k", "K":
			return m.startKill(msg.String() == "K"), nil
		}
	case tickMsg:
		next, cmd := m.refresh()
		return next, tea.Batch(m.tick(), cmd)
	case scanMsg:
		m.scanning = false
		if msg.err != nil {
			m.status = "Scan failed: " + msg.err.Error()
			return m, nil
		}
		m.views = msg.views
		m.updateRows()
		return m, nil
	case killMsg:
		m.killing = false
		m.killPID = 0
		o := msg.outcome
		if m.opts.Metrics != nil {
			m.opts.Metrics.ObserveOutcomes(o)
		}
		m.status = fmt.Sprintf("%s: %s", o.Kind, o.Message)
		if o.Kind == process.KindSuccess {
			return m.refresh()
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-12, 5))
	}

	m.table, cmd = m.table.Update(msg)
	m.table.SetStyles(tableStyles(m.selectedState()))
	return m, cmd
}

// refresh starts a scan unless one is already running
func (m Model) refresh() (Model, tea.Cmd) {
	if m.scanning {
		return m, nil
	}
	m.scanning = true
	return m, m.scan()
}

func (m Model) startKill(force bool) Model {
	if m.killing {
		m.status = "A termination is already running"
		return m
	}
	v, ok := m.selected()
	if !ok {
		return m
	}
	if !v.HasOwner() {
		m.status = fmt.Sprintf("Port %d has no attributable process", v.LocalPort)
		return m
	}
	m.confirming = true
	m.killPID = v.OwnerPID
	m.killName = v.ProcessName()
	m.killForce = force
	return m
}

func (m Model) selected() (ports.PortView, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return ports.PortView{}, false
	}
	return m.visible[i], true
}

func (m Model) selectedState() ports.State {
	if v, ok := m.selected(); ok {
		return v.State
	}
	return ports.StateUnknown
}

func nextTransport(t ports.Transport) ports.Transport {
	switch t {
	case "":
		return ports.TCP
	case ports.TCP:
		return ports.UDP
	}
	return ""
}

func (m *Model) updateRows() {
	views := m.views
	if m.listeningOnly {
		views = ports.FilterListening(views)
	}
	if m.transport != "" {
		views = ports.FilterTransport(views, string(m.transport))
	}

	filter := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))
	visible := make([]ports.PortView, 0, len(views))
	rows := make([]table.Row, 0, len(views))
	for _, v := range views {
		row := toRow(v)
		if filter != "" && !matches(row, filter) {
			continue
		}
		visible = append(visible, v)
		rows = append(rows, row)
	}

	m.visible = visible
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
	m.table.SetStyles(tableStyles(m.selectedState()))
}

func toRow(v ports.PortView) table.Row {
	pid, user := "-", ""
	if v.HasOwner() {
		pid = strconv.FormatUint(uint64(v.OwnerPID), 10)
	}
	if v.Process != nil {
		user = v.Process.Username
	}
	return table.Row{
		string(v.Transport),
		strconv.Itoa(int(v.LocalPort)),
		v.Endpoint(),
		v.RemoteEndpoint(),
		string(v.State),
		pid,
		v.ProcessName(),
		user,
	}
}

// matches checks the port, state and process columns
func matches(row table.Row, filter string) bool {
	for _, i := range []int{1, 4, 5, 6} {
		if strings.Contains(strings.ToLower(row[i]), filter) {
			return true
		}
	}
	return false
}
