package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ngenohkevin/portguard/internal/ports"
)

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("57")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
	confirmStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("160")).
			Bold(true).
			Padding(0, 1)
)

// stateColors follows the CLI: LISTEN green, ESTABLISHED blue,
// TIME_WAIT yellow, CLOSE_WAIT red
var stateColors = map[ports.State]lipgloss.Color{
	ports.StateListen:      lipgloss.Color("42"),
	ports.StateEstablished: lipgloss.Color("33"),
	ports.StateTimeWait:    lipgloss.Color("220"),
	ports.StateCloseWait:   lipgloss.Color("160"),
}

var legendOrder = []ports.State{
	ports.StateListen,
	ports.StateEstablished,
	ports.StateTimeWait,
	ports.StateCloseWait,
}

// tableStyles highlights the selected row in the color of its state
func tableStyles(selected ports.State) table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)

	bg := lipgloss.Color("57")
	if c, ok := stateColors[selected]; ok {
		bg = c
	}
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(bg).
		Bold(true)
	return s
}

// View renders the model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portguard") + "\n")
	if m.host != "" {
		b.WriteString(mutedStyle.Render(m.host) + "\n")
	}
	b.WriteString("\n")

	transport := "all"
	if m.transport != "" {
		transport = string(m.transport)
	}
	listening := "all states"
	if m.listeningOnly {
		listening = "listening only"
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("[t] %s • [l] %s • ", transport, listening)))
	b.WriteString(m.legend() + "\n")

	switch {
	case m.filtering:
		b.WriteString(titleStyle.Render(" / ") + m.filterInput.View() + "\n")
	case m.filterInput.Value() != "":
		b.WriteString(mutedStyle.Render(" Filter: "+m.filterInput.Value()) + "\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(baseStyle.Render(m.table.View()) + "\n")

	if m.confirming {
		verb := "Terminate"
		if m.killForce {
			verb = "Force kill"
		}
		prompt := fmt.Sprintf("%s %s (PID %d)? [y/n]", verb, m.killName, m.killPID)
		b.WriteString("\n" + confirmStyle.Render(prompt) + "\n")
	} else if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}

	help := "\n  q: quit • /: filter • l: listening • t: transport • r: refresh • k: terminate • K: force kill"
	b.WriteString(mutedStyle.Render(help) + "\n")

	return b.String()
}

// legend counts the visible sockets per state in the state's color
func (m Model) legend() string {
	counts := make(map[ports.State]int)
	for _, v := range m.visible {
		counts[v.State]++
	}

	parts := make([]string, 0, len(legendOrder)+1)
	parts = append(parts, fmt.Sprintf("%d sockets", len(m.visible)))
	for _, s := range legendOrder {
		if counts[s] == 0 {
			continue
		}
		style := lipgloss.NewStyle().Foreground(stateColors[s])
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", s, counts[s])))
	}
	return strings.Join(parts, " ")
}
