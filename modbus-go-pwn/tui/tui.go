package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/database"
	"modbus-tools/modbus-go-pwn/version"
)

// --- STYLES ---
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#575B7E")).
			Padding(0, 1)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	statusKeyStyle = lipgloss.NewStyle().Bold(true)

	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	runningStyle = lipgloss.NewStyle().Background(lipgloss.Color("202")).Foreground(lipgloss.Color("0"))

	addressStyle = lipgloss.NewStyle().Width(14).Align(lipgloss.Right).Padding(0, 1)
	valueStyle   = lipgloss.NewStyle().Width(24).Padding(0, 1)
)

// --- MODEL ---
type tickMsg time.Time

type probeDoneMsg struct {
	endpoint  assess.Endpoint
	available bool
	message   string
}

type exploitDoneMsg struct {
	report assess.ExploitReport
}

type dosDoneMsg struct {
	report assess.CampaignReport
	err    error
}

type Model struct {
	sessions *assess.SessionManager
	assessor *assess.Assessor
	dos      *assess.DosOrchestrator
	targets  map[string]database.Target
	log      logrus.FieldLogger

	viewport  viewport.Model
	textInput textinput.Model
	bar       progress.Model
	ready     bool

	status       string
	lastReport   string
	renderedScan string
}

func NewModel(sessions *assess.SessionManager, assessor *assess.Assessor, dos *assess.DosOrchestrator, targets map[string]database.Target, logger logrus.FieldLogger) Model {
	ti := textinput.New()
	ti.Placeholder = "probe 10.0.0.5 | scan @plc1 0-99 hr coils | write reg @plc1 40 1234 | dos @plc1 coil 3 workers=2"
	ti.Focus()

	return Model{
		sessions:  sessions,
		assessor:  assessor,
		dos:       dos,
		targets:   targets,
		log:       logger,
		textInput: ti,
		bar:       progress.New(progress.WithDefaultGradient()),
		status:    "Ready. Type 'help' for commands.",
	}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

// --- UPDATE ---
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.textInput.Focused() {
			switch msg.Type {
			case tea.KeyEnter:
				cmd = m.handleCommand()
				return m, cmd
			case tea.KeyCtrlC, tea.KeyEsc:
				m.textInput.Blur()
				return m, nil
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "i", "c":
				m.textInput.Focus()
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		topPaneHeight := 10
		footerHeight := 3
		verticalMargin := topPaneHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMargin)
			m.viewport.Style = baseStyle
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.bar.Width = msg.Width/2 - 6
		m.renderedScan = ""

	case tickMsg:
		if tree, inProgress := m.sessions.Results(); !inProgress {
			key := m.sessions.ID() + "/" + tree.Status
			if key != m.renderedScan {
				m.renderedScan = key
				m.viewport.SetContent(renderResults(tree, m.viewport.Width))
			}
		}
		return m, tick()

	case probeDoneMsg:
		if msg.available {
			m.status = fmt.Sprintf("%s: %s", msg.endpoint, msg.message)
		} else {
			m.status = errorStyle.Render(fmt.Sprintf("%s: %s", msg.endpoint, msg.message))
		}
		return m, nil

	case exploitDoneMsg:
		m.lastReport = renderExploit(msg.report)
		m.status = "Exploit " + msg.report.Status
		return m, nil

	case dosDoneMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("DoS: " + msg.err.Error())
			return m, nil
		}
		m.lastReport = renderCampaign(msg.report)
		m.status = "DoS campaign " + msg.report.Status
		return m, nil
	}

	if m.textInput.Focused() {
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleCommand parses the input line. Blocking work is returned as a tea.Cmd.
func (m *Model) handleCommand() tea.Cmd {
	input := strings.TrimSpace(m.textInput.Value())
	defer m.textInput.SetValue("")
	if input == "" {
		return nil
	}
	m.log.WithField("input", input).Debug("tui command")

	c, err := parseCommand(input, m.targets)
	if err != nil {
		m.status = errorStyle.Render("Error: " + err.Error())
		return nil
	}

	switch c.name {
	case "help":
		m.status = usage
	case "clear":
		m.lastReport = ""
		if err := m.sessions.Reset(); err != nil {
			m.status = warnStyle.Render(err.Error())
		}
	case "targets":
		m.lastReport = renderTargets(m.targets)
	case "probe":
		m.status = fmt.Sprintf("Testing if Modbus is running on %s", c.endpoint)
		a := m.assessor
		return func() tea.Msg {
			ok, message := a.Probe(context.Background(), c.endpoint, a.Timing().ProbeTimeout)
			return probeDoneMsg{endpoint: c.endpoint, available: ok, message: message}
		}
	case "scan":
		id, err := m.sessions.Start(c.endpoint, c.unitID, c.rng, c.opts)
		if err != nil {
			m.status = errorStyle.Render("Error: " + err.Error())
			return nil
		}
		m.status = "Scan " + id + " started"
	case "stop":
		if !m.sessions.Stop() {
			m.status = warnStyle.Render(assess.ErrNoScanRunning.Error())
			return nil
		}
		m.status = "Stopping scan..."
	case "write":
		m.status = fmt.Sprintf("Writing to %s unit %d", c.endpoint, c.unitID)
		a := m.assessor
		return func() tea.Msg {
			return exploitDoneMsg{report: a.Exploit(context.Background(), c.endpoint, c.unitID, c.ops)}
		}
	case "dos":
		m.status = fmt.Sprintf("DoS campaign against %s started", c.endpoint)
		d := m.dos
		return func() tea.Msg {
			report, err := d.Start(context.Background(), c.endpoint, c.unitID, c.campaign)
			return dosDoneMsg{report: report, err: err}
		}
	case "halt":
		report, ok := m.dos.Stop()
		if !ok {
			m.status = warnStyle.Render("No DoS attack is currently running.")
			return nil
		}
		m.lastReport = renderCampaign(report)
		m.status = "DoS campaign stopped"
	}
	return nil
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	topPanes := lipgloss.JoinHorizontal(lipgloss.Left,
		m.renderSessionPane(),
		m.renderStatusPane(),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		topPanes,
		m.viewport.View(),
		m.renderFooter(),
	)
}

func (m Model) renderSessionPane() string {
	p := m.sessions.Progress()
	status := p.Status
	switch p.Status {
	case assess.StatusFailed, assess.StatusError:
		status = errorStyle.Render(status)
	case assess.StatusAborted, assess.StatusStopping:
		status = warnStyle.Render(status)
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Scan Session"),
		statusKeyStyle.Render("Status:  ")+status,
		statusKeyStyle.Render("Message: ")+p.Message,
		" ",
		m.bar.ViewAs(p.Percent/100),
	)
	paneWidth := m.viewport.Width / 2
	return baseStyle.Width(paneWidth).Height(8).Render(content)
}

func (m Model) renderStatusPane() string {
	dosStatus := m.dos.Status()
	if dosStatus == assess.StatusRunning {
		dosStatus = runningStyle.Render(" RUNNING ")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Status"),
		statusKeyStyle.Render("Version: ")+version.Version,
		statusKeyStyle.Render("DoS:     ")+dosStatus,
		" ",
		m.status,
		m.lastReport,
	)
	leftPaneWidth := m.viewport.Width / 2
	rightPaneWidth := m.viewport.Width - leftPaneWidth - 3
	return baseStyle.Width(rightPaneWidth).Height(8).Render(content)
}

func renderResults(tree assess.ResultTree, width int) string {
	var content strings.Builder
	content.WriteString(titleStyle.Width(width).Render("Scan Results") + "\n")
	if tree.Status == "" || tree.Status == assess.StatusNoResults {
		content.WriteString("No scan results yet.")
		return content.String()
	}
	content.WriteString(statusKeyStyle.Render("Status: ") + tree.Status + "\n")
	if tree.Error != "" {
		content.WriteString(errorStyle.Render(tree.Error) + "\n")
	}
	if tree.ModbusCheck != nil {
		content.WriteString(statusKeyStyle.Render("Modbus: ") + tree.ModbusCheck.Message + "\n")
	}
	if tree.DiscoveredSlaveIDs != nil {
		content.WriteString(statusKeyStyle.Render("Slave IDs: ") + fmt.Sprint(tree.DiscoveredSlaveIDs) + "\n")
	}

	for _, dt := range assess.AllDataTypes {
		points, ok := tree.Spaces[dt]
		if !ok {
			continue
		}
		content.WriteString("\n" + titleStyle.Render(dt.String()) + "\n")
		keys := make([]string, 0, len(points))
		for k := range points {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return addressOrder(keys[i]) < addressOrder(keys[j]) })
		for _, k := range keys {
			var val string
			switch v := points[k].(type) {
			case assess.ChunkError:
				val = errorStyle.Render(string(v))
			default:
				val = fmt.Sprint(v.Value())
			}
			content.WriteString(lipgloss.JoinHorizontal(lipgloss.Left,
				addressStyle.Render(k),
				valueStyle.Render(val),
			) + "\n")
		}
	}
	return content.String()
}

// addressOrder sorts "Error a-b" keys by their first address.
func addressOrder(key string) int {
	key = strings.TrimPrefix(key, "Error ")
	if a, _, ok := strings.Cut(key, "-"); ok {
		key = a
	}
	n, _ := strconv.Atoi(key)
	return n
}

func renderExploit(r assess.ExploitReport) string {
	var b strings.Builder
	if r.Error != "" {
		b.WriteString(errorStyle.Render(r.Error) + "\n")
	}
	ops := []struct {
		name    string
		outcome *assess.WriteOutcome
	}{{"Register", r.WriteRegister}, {"Coil", r.WriteCoil}}
	for _, op := range ops {
		name, o := op.name, op.outcome
		if o == nil {
			continue
		}
		line := fmt.Sprintf("%s %d <- %v: %s", name, o.Address, o.Value, o.Status)
		if o.Details != "" {
			line += " (" + o.Details + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCampaign(r assess.CampaignReport) string {
	requests, errs := r.TotalRequests()
	return fmt.Sprintf("%d workers, %d requests, %d errors", len(r.AttackResults), requests, errs)
}

func renderTargets(targets map[string]database.Target) string {
	if len(targets) == 0 {
		return "No target profiles loaded."
	}
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		t := targets[n]
		fmt.Fprintf(&b, "@%s %s:%d unit %d\n", n, t.Host, t.Port, t.UnitID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderFooter() string {
	help := "Use arrow keys or mouse to scroll | (i) to input command | (q) to quit"
	if m.textInput.Focused() {
		help = "Enter command and press Esc to cancel"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.textInput.View(),
		help,
	)
}
