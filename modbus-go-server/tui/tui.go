package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-server/server"
)

const watchCount = 16

type Model struct {
	server    *server.Server
	log       logrus.FieldLogger
	snap      server.Snapshot
	prevSnap  server.Snapshot
	textInput textinput.Model
	status    string
	width     int
	height    int
}
type tickMsg time.Time

func NewModel(s *server.Server, logger logrus.FieldLogger) Model {
	ti := textinput.New()
	ti.Placeholder = "e.g., write 10 1234 | coil 3 on | unit add 5 | heartbeat on"
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 80
	return Model{
		server:    s,
		log:       logger,
		textInput: ti,
		status:    "Press Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd {
	return doTick
}

func doTick() tea.Msg {
	time.Sleep(500 * time.Millisecond)
	return tickMsg{}
}

func (m *Model) handleCommand() {
	input := strings.TrimSpace(m.textInput.Value())
	defer m.textInput.SetValue("")
	if input == "" {
		return
	}
	m.log.Debugf("TUI: User input: '%s'", input)
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])

	switch command {
	case "write", "w", "coil", "c":
		if len(parts) < 3 {
			m.status = fmt.Sprintf("Error: '%s' requires address and value.", command)
			return
		}
		addr, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			m.status = fmt.Sprintf("Error: Invalid address '%s'.", parts[1])
			return
		}
		if command == "coil" || command == "c" {
			on := strings.EqualFold(parts[2], "on") || parts[2] == "1"
			m.server.CommandChan <- server.WriteCoilCmd{Addr: uint16(addr), Val: on}
			m.status = fmt.Sprintf("Success: Queued coil %d -> %v.", addr, on)
			return
		}
		val, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			m.status = fmt.Sprintf("Error: Invalid value '%s'.", parts[2])
			return
		}
		m.server.CommandChan <- server.WriteRegisterCmd{Addr: uint16(addr), Value: uint16(val)}
		m.status = fmt.Sprintf("Success: Queued write %d to register %d.", val, addr)
	case "unit", "u":
		if len(parts) < 3 {
			m.status = "Error: 'unit' requires add|del and an id."
			return
		}
		id, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			m.status = fmt.Sprintf("Error: Invalid unit id '%s'.", parts[2])
			return
		}
		enable := !strings.EqualFold(parts[1], "del")
		m.server.CommandChan <- server.UnitCmd{ID: uint8(id), Enable: enable}
		m.status = fmt.Sprintf("Success: Queued unit %d enabled=%v.", id, enable)
	case "heartbeat", "hb":
		on := len(parts) > 1 && strings.EqualFold(parts[1], "on")
		m.server.SetHeartbeat(on)
		m.status = fmt.Sprintf("Heartbeat on=%v.", on)
	default:
		m.status = fmt.Sprintf("Error: Unknown command '%s'.", command)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			m.handleCommand()
			return m, nil
		}
	case tickMsg:
		m.prevSnap = m.snap
		m.snap = m.server.GetSnapshot(0, watchCount)
		return m, doTick
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	changedStyle := lipgloss.NewStyle().Reverse(true)
	b.WriteString("--- Modbus Lab Target ---\n\n")
	b.WriteString(fmt.Sprintf("Units served: %v   Requests: %d\n\n", m.snap.Units, m.snap.Requests))

	for i := range m.snap.Holding {
		addr := int(m.snap.Start) + i
		line := fmt.Sprintf("HR %-5d: %-6d   Coil %-5d: %v\n", addr, m.snap.Holding[i], addr, m.snap.Coils[i])
		changed := i < len(m.prevSnap.Holding) &&
			(m.prevSnap.Holding[i] != m.snap.Holding[i] || m.prevSnap.Coils[i] != m.snap.Coils[i])
		if changed {
			b.WriteString(changedStyle.Render(line))
		} else {
			b.WriteString(line)
		}
	}

	footer := fmt.Sprintf("\n%s\n%s", m.textInput.View(), m.status)
	return b.String() + footer
}
