package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/session"
)

type MonitorCommand struct {
	Gait     string  `short:"g" long:"gait" default:"walk" choice:"walk" choice:"dance" description:"Gait to run"`
	Steps    int     `short:"n" long:"steps" description:"Walk: number of steps (default from config)"`
	StepMs   int     `long:"step-ms" description:"Walk: keyframe duration in milliseconds (default from config)"`
	Duration float64 `short:"d" long:"duration" description:"Dance: minimum time in seconds (default from config)"`
	PhraseMs int     `long:"phrase-ms" description:"Dance: keyframe duration in milliseconds (default from config)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors, one per servo
var jointColors = map[robot.JointName]string{
	robot.LeftHip:    "196", // red
	robot.LeftKnee:   "208", // orange
	robot.LeftAnkle:  "226", // yellow
	robot.RightHip:   "46",  // green
	robot.RightKnee:  "51",  // cyan
	robot.RightAnkle: "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type monitorModel struct {
	ctrl      *session.Controller
	prog      session.Program
	ctx       context.Context
	cancel    context.CancelFunc
	cal       robot.Calibration
	title     string
	chart     *streamlinechart.Model
	last      pose.Pose // last commanded pose
	width     int       // terminal width
	height    int       // terminal height
	logs      []string  // last N log messages
	state     session.State
	keyframe  string
	keyframes int
	failures  int
	stopping  bool
	done      bool
	outcome   *session.Outcome
	err       error
}

// Messages from the session
type eventMsg session.Event
type doneMsg struct {
	outcome *session.Outcome
	err     error
}

func waitForEvent(ctrl *session.Controller) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ctrl.Events())
	}
}

func runSession(ctx context.Context, ctrl *session.Controller, prog session.Program) tea.Cmd {
	return func() tea.Msg {
		out, err := ctrl.Run(ctx, prog)
		return doneMsg{outcome: out, err: err}
	}
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *monitorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

// pushPose charts the commanded angles. A partial pose is merged over the
// last one, and an unchanged pose freezes the chart.
func (m *monitorModel) pushPose(p pose.Pose) {
	next := m.last.Merge(p)
	if m.last.Len() > 0 && next.Equal(m.last) {
		return
	}
	m.last = next

	for _, name := range robot.AllJoints() {
		id, ok := m.cal.ID(name)
		if !ok {
			continue
		}
		if a, ok := next.Angle(id); ok {
			m.chart.PushDataSet(string(name), float64(a))
		}
	}
	m.chart.DrawAll()
}

func initialMonitorModel(ctx context.Context, ctrl *session.Controller, prog session.Program, cal robot.Calibration, title string) monitorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(float64(pose.MinAngle), float64(pose.MaxAngle)),
	)

	// Set up data set styles for each joint
	for _, name := range robot.AllJoints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	ctx, cancel := context.WithCancel(ctx)
	return monitorModel{
		ctrl:   ctrl,
		prog:   prog,
		ctx:    ctx,
		cancel: cancel,
		cal:    cal,
		title:  title,
		chart:  &chart,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.ctrl),
		runSession(m.ctx, m.ctrl, m.prog),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				m.addLog("Stopping, returning to neutral...")
				m.cancel()
			}
		}

	case eventMsg:
		e := session.Event(msg)
		m.state = e.State
		if e.Changed {
			m.addLog("Session " + e.State.String())
		}
		if e.Message != "" {
			m.addLog(e.Message)
		}
		if e.Entry != nil {
			m.keyframes++
			m.failures += len(e.Entry.Result.Failed)
			m.keyframe = fmt.Sprintf("%s / %s", e.Entry.Sequence, e.Entry.Label)
			m.pushPose(e.Entry.Pose)
		}
		return m, waitForEvent(m.ctrl)

	case doneMsg:
		m.done = true
		m.outcome = msg.outcome
		m.err = msg.err
		m.cancel()
		if m.stopping {
			return m, tea.Quit
		}
		m.addLog("Finished, press 'q' to quit")
		return m, nil
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.done && m.stopping {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  %s  %d keyframes  %d failures", m.state, m.keyframes, m.failures)))
	if m.keyframe != "" {
		sb.WriteString(statusStyle.Render("  [" + m.keyframe + "]"))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range robot.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(name))
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	cfg, ch, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		prog  session.Program
		title string
	)
	switch c.Gait {
	case "dance":
		seconds := cmp.Or(c.Duration, cfg.Dance.DurationSec, robot.DefaultDanceSec)
		phraseMs := cmp.Or(c.PhraseMs, cfg.Dance.PhraseMs, robot.DefaultPhraseMs)
		duration := time.Duration(seconds * float64(time.Second))
		prog = session.Dance(duration, time.Duration(phraseMs)*time.Millisecond)
		title = fmt.Sprintf("Biped Dance - %s", duration)
	default:
		steps := cmp.Or(c.Steps, cfg.Walk.Steps, robot.DefaultWalkSteps)
		stepMs := cmp.Or(c.StepMs, cfg.Walk.StepMs, robot.DefaultStepMs)
		prog = session.Walk(steps, time.Duration(stepMs)*time.Millisecond)
		title = fmt.Sprintf("Biped Walk - %d steps", steps)
	}

	sc := sessionConfig(cfg, ch)
	sc.EventBuffer = 1024
	ctrl, err := session.New(sc)
	if err != nil {
		return err
	}

	// Session messages are shown in the log box instead
	log.SetOutput(io.Discard)

	ctx, stop := signalContext()
	defer stop()

	p := tea.NewProgram(initialMonitorModel(ctx, ctrl, prog, cfg.Calibration, title), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("run monitor: %w", err)
	}

	m := final.(monitorModel)
	if m.outcome != nil {
		printOutcome(cfg.Calibration, m.outcome)
	}
	exitOnStartupError(m.err)
	return m.err
}
