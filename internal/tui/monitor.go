package tui

import (
	"fmt"
	"strings"
	"time"

	"spectro/internal/config"
	"spectro/internal/pipeline"
	"spectro/internal/record"
	"spectro/internal/spectral"
	"spectro/internal/spectrogram"
	"spectro/pkg/bitint"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the part of the pipeline the monitor drives.
type Controller interface {
	Latest(n int) []spectrogram.Column
	Config() config.Pipeline
	Reconfigure(cfg config.Pipeline) error
	State() pipeline.State
	Specs() spectral.Specs
	Stop() error
	Export(req record.Request, sinks record.Sinks) (record.Summary, error)
	Errors() <-chan error
}

// Refresh is how often the monitor redraws.
const Refresh = 100 * time.Millisecond

// Shading from silence to full scale.
var shades = []rune(" .:-=+*#%@")

// Decibel range mapped onto the shades.
const (
	floorDB = -100.0
	ceilDB  = 0.0
)

type monitorKeys struct {
	WindowUp   key.Binding
	WindowDown key.Binding
	RateUp     key.Binding
	RateDown   key.Binding
	AlphaUp    key.Binding
	AlphaDown  key.Binding
	Export     key.Binding
	Stop       key.Binding
	Quit       key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.WindowUp, k.WindowDown, k.RateUp, k.RateDown, k.AlphaUp, k.AlphaDown, k.Export, k.Stop, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var keys = monitorKeys{
	WindowUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "longer window")),
	WindowDown: key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "shorter window")),
	RateUp:     key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "rate ×2")),
	RateDown:   key.NewBinding(key.WithKeys("["), key.WithHelp("[", "rate ÷2")),
	AlphaUp:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "alpha +")),
	AlphaDown:  key.NewBinding(key.WithKeys("A"), key.WithHelp("A", "alpha -")),
	Export:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export")),
	Stop:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

type exportMsg struct {
	summary record.Summary
	err     error
}

type stoppedMsg struct{ err error }

// MonitorModel shows the newest columns as a scrolling waterfall and lets
// the user retune the pipeline.
type MonitorModel struct {
	ctrl   Controller
	sinks  record.Sinks
	source string

	help   help.Model
	width  int
	height int
	ready  bool

	cols    []spectrogram.Column
	cfg     config.Pipeline
	specs   spectral.Specs
	state   pipeline.State
	status  string
	lastErr error
	errors  int
	now     func() time.Time
}

// NewMonitorModel creates a monitor for ctrl. Exports go through sinks.
func NewMonitorModel(ctrl Controller, source string, sinks record.Sinks) MonitorModel {
	return MonitorModel{
		ctrl:   ctrl,
		sinks:  sinks,
		source: source,
		help:   help.New(),
		now:    time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh loop.
func (m MonitorModel) Init() tea.Cmd { return tick() }

// Update handles input and refreshes.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.ready = true
		m.refresh()

	case tickMsg:
		m.refresh()
		return m, tick()

	case exportMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("export failed: %v", msg.err)
			break
		}
		m.status = describeExport(msg.summary)

	case stoppedMsg:
		m.refresh()
		if msg.err != nil {
			m.status = fmt.Sprintf("stopped with error: %v", msg.err)
		} else {
			m.status = "stopped"
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m MonitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cfg := m.ctrl.Config()

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.WindowUp):
		cfg.WindowLength = bitint.StepUp(cfg.WindowLength)
	case key.Matches(msg, keys.WindowDown):
		cfg.WindowLength = bitint.StepDown(cfg.WindowLength, 2)
	case key.Matches(msg, keys.RateUp):
		cfg.RepetitionRate *= 2
	case key.Matches(msg, keys.RateDown):
		cfg.RepetitionRate /= 2
	case key.Matches(msg, keys.AlphaUp):
		cfg.Alpha = min(1, cfg.Alpha+0.25)
	case key.Matches(msg, keys.AlphaDown):
		cfg.Alpha = max(0, cfg.Alpha-0.25)

	case key.Matches(msg, keys.Export):
		m.status = "exporting..."
		return m, m.export()

	case key.Matches(msg, keys.Stop):
		m.status = "stopping..."
		ctrl := m.ctrl
		return m, func() tea.Msg { return stoppedMsg{ctrl.Stop()} }

	default:
		return m, nil
	}

	if err := m.ctrl.Reconfigure(cfg); err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = fmt.Sprintf("window %d, rate %.2f/s, alpha %.2f", cfg.WindowLength, cfg.RepetitionRate, cfg.Alpha)
	m.refresh()
	return m, nil
}

func (m MonitorModel) export() tea.Cmd {
	ctrl, sinks := m.ctrl, m.sinks
	req := record.Request{
		Name:        record.DefaultName(m.now()),
		Audio:       sinks.Audio != nil,
		Spectrogram: sinks.Spectrogram != nil,
	}
	return func() tea.Msg {
		sum, err := ctrl.Export(req, sinks)
		return exportMsg{sum, err}
	}
}

func describeExport(s record.Summary) string {
	var parts []string
	if s.AudioPath != "" {
		parts = append(parts, fmt.Sprintf("%s (%d samples)", s.AudioPath, s.AudioSamples))
	}
	if s.SpectrogramPath != "" {
		parts = append(parts, fmt.Sprintf("%s (%d columns)", s.SpectrogramPath, s.Columns))
	}
	msg := fmt.Sprintf("saved %.2f-%.2fs: %s", s.Range.Start, s.Range.End, strings.Join(parts, ", "))
	if s.Partial {
		msg += " [partial]"
	}
	return msg
}

// refresh pulls the newest columns and drains pending errors.
func (m *MonitorModel) refresh() {
	m.cfg = m.ctrl.Config()
	m.specs = m.ctrl.Specs()
	m.state = m.ctrl.State()
	if w := m.plotWidth(); w > 0 {
		m.cols = m.ctrl.Latest(w)
	}
	for {
		select {
		case err := <-m.ctrl.Errors():
			m.lastErr = err
			m.errors++
		default:
			return
		}
	}
}

func (m MonitorModel) plotWidth() int  { return max(0, m.width-axisWidth) }
func (m MonitorModel) plotHeight() int { return max(1, m.height-7) }

// View renders the UI
func (m MonitorModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Spectrogram") + " " + infoStyle.Render(m.source)
	header := infoStyle.Render(fmt.Sprintf("%s • %.0f Hz • window %d (%.2f Hz/bin) • hop %d • %.2f col/s • alpha %.2f • %s • retention %s",
		m.state, m.specs.SampleRate, m.cfg.WindowLength, m.specs.BinWidth, m.specs.Hop,
		m.cfg.RepetitionRate, m.cfg.Alpha, scaleName(m.cfg.Scale), m.cfg.Retention))

	plot := RenderWaterfall(m.cols, m.plotWidth(), m.plotHeight(), m.cfg.Scale)

	status := m.status
	if m.lastErr != nil {
		status = strings.TrimSpace(fmt.Sprintf("%s  errors: %d (last: %v)", status, m.errors, m.lastErr))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		header,
		"",
		plot,
		highlightStyle.Render(status),
		m.help.View(keys),
	)
}

func scaleName(s string) string {
	if s == "" {
		return config.ScaleDecibel
	}
	return strings.ToLower(s)
}

// axisWidth is the frequency label column left of the plot.
const axisWidth = 9

// RenderWaterfall draws cols left to right (oldest first) with frequency
// rising upwards. Each text row shows the loudest bin of its band.
func RenderWaterfall(cols []spectrogram.Column, width, height int, scale string) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	if len(cols) == 0 {
		return strings.Repeat("\n", height-1)
	}
	if len(cols) > width {
		cols = cols[len(cols)-width:]
	}

	linear := scaleName(scale) == config.ScaleLinear
	var peak float64
	if linear {
		for _, c := range cols {
			for _, v := range c.Magnitudes {
				peak = max(peak, v)
			}
		}
	}

	newest := cols[len(cols)-1]
	bins := len(newest.Magnitudes)
	rows := make([]strings.Builder, height)
	for r := range rows {
		// Row 0 is the top, i.e. the highest band.
		lo, hi := band(height-1-r, height, bins)
		rows[r].WriteString(fmt.Sprintf("%7.0fHz", float64(lo)*newest.BinWidth)[:axisWidth])
		for _, c := range cols {
			if len(c.Magnitudes) != bins {
				// Column from before a window change; scale its band.
				l, h := band(height-1-r, height, len(c.Magnitudes))
				rows[r].WriteRune(shade(bandMax(c.Magnitudes, l, h), linear, peak))
				continue
			}
			rows[r].WriteRune(shade(bandMax(c.Magnitudes, lo, hi), linear, peak))
		}
	}

	lines := make([]string, height)
	for i := range rows {
		lines[i] = rows[i].String()
	}
	return strings.Join(lines, "\n")
}

// band returns the bin range [lo, hi) shown by row r of n.
func band(r, n, bins int) (lo, hi int) {
	lo = r * bins / n
	hi = max(lo+1, (r+1)*bins/n)
	return lo, min(hi, bins)
}

func bandMax(mags []float64, lo, hi int) float64 {
	if lo >= hi {
		return floorDB
	}
	m := mags[lo]
	for _, v := range mags[lo+1 : hi] {
		m = max(m, v)
	}
	return m
}

func shade(v float64, linear bool, peak float64) rune {
	var level float64
	if linear {
		if peak <= 0 {
			return shades[0]
		}
		level = v / peak
	} else {
		level = (v - floorDB) / (ceilDB - floorDB)
	}
	i := int(level * float64(len(shades)-1))
	return shades[min(max(i, 0), len(shades)-1)]
}

// RunMonitor runs the monitor until the user quits.
func RunMonitor(ctrl Controller, source string, sinks record.Sinks) error {
	p := tea.NewProgram(NewMonitorModel(ctrl, source, sinks), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
