package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/fetch"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/lifecycle"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/pathmap"
	"github.com/osteele/pbs-jobs/internal/ssh"
	"github.com/osteele/pbs-jobs/internal/tail"
)

// Default intervals for background operations
const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultLogInterval     = 3 * time.Second
)

// maxLogLines bounds the log panel's scrollback
const maxLogLines = 2000

// ViewMode represents which view is currently active
type ViewMode int

const (
	ViewModeJobs ViewMode = iota
	ViewModeServers
)

// confirmStep is the question the operator is being asked
type confirmStep int

const (
	confirmNone confirmStep = iota
	confirmKill
	confirmRemoveDir
)

// statusFilters are cycled by the filter key; "" shows every job
var statusFilters = []string{"", "R", "Q"}

// Key bindings
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Logs     key.Binding
	Escape   key.Binding
	Kill     key.Binding
	Submit   key.Binding
	Sort     key.Binding
	Filter   key.Binding
	Mine     key.Binding
	Refresh  key.Binding
	Servers  key.Binding
	Yes      key.Binding
	No       key.Binding
	Suspend  key.Binding
	Quit     key.Binding
	Help     key.Binding
	NextForm key.Binding
	SendForm key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "down"),
	),
	Logs: key.NewBinding(
		key.WithKeys("l", "enter"),
		key.WithHelp("l", "logs"),
	),
	Escape: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "close"),
	),
	Kill: key.NewBinding(
		key.WithKeys("k", "delete"),
		key.WithHelp("k", "kill"),
	),
	Submit: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "submit"),
	),
	Sort: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "sort"),
	),
	Filter: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "status filter"),
	),
	Mine: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "my jobs"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "refresh"),
	),
	Servers: key.NewBinding(
		key.WithKeys("tab", "v"),
		key.WithHelp("tab", "servers"),
	),
	Yes: key.NewBinding(
		key.WithKeys("y", "Y"),
	),
	No: key.NewBinding(
		key.WithKeys("n", "N", "esc"),
	),
	Suspend: key.NewBinding(
		key.WithKeys("ctrl+z"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	NextForm: key.NewBinding(
		key.WithKeys("tab", "shift+tab", "up", "down"),
	),
	SendForm: key.NewBinding(
		key.WithKeys("enter"),
	),
}

// Messages
type jobsFetchedMsg struct {
	records []jobs.Record
	report  []fetch.ServerResult
	at      time.Time
}

type logOpenedMsg struct {
	key     string
	session *tail.Session
	chunk   tail.Chunk
	err     error
}

type logPolledMsg struct {
	key   string
	chunk tail.Chunk
	err   error
}

type jobKilledMsg struct {
	result lifecycle.KillResult
	err    error
}

type dirRemovedMsg struct {
	path string
	err  error
}

type jobSubmittedMsg struct {
	result lifecycle.SubmitResult
	err    error
}

type refreshTickMsg time.Time
type logTickMsg time.Time
type flashExpiredMsg struct{}

// Fetcher collects the job lists of the servers
type Fetcher interface {
	FetchAllWithReport(ctx context.Context, servers []config.Server) ([]jobs.Record, []fetch.ServerResult)
}

// Services are the collaborators the model drives
type Services struct {
	Config     *config.Config
	Exec       ssh.Executor
	Fetcher    Fetcher
	Controller *lifecycle.Controller
	Paths      *pathmap.Translator
}

// ModelOptions contains configuration for the TUI model
type ModelOptions struct {
	RefreshInterval time.Duration
	LogInterval     time.Duration
}

// DefaultModelOptions returns the default TUI options
func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		RefreshInterval: DefaultRefreshInterval,
		LogInterval:     DefaultLogInterval,
	}
}

// Form input indices
const (
	inputPath = iota
	inputScript
)

// Model is the main TUI state
type Model struct {
	ctx  context.Context
	svc  Services
	opts ModelOptions

	viewMode ViewMode

	// Jobs data: rows is the filtered, sorted view of the controller's table
	rows          []jobs.Record
	selectedIndex int
	sortIndex     int
	statusFilter  int
	mineOnly      bool
	fetching      bool
	lastFetch     time.Time

	// Servers data
	servers           []ServerStatus
	selectedServerIdx int

	// Log panel
	logKey     string
	logJob     jobs.Record
	logSession *tail.Session
	logContent string
	logLoading bool
	logPolling bool

	// Kill confirmation
	confirm     confirmStep
	pendingKill jobs.Record
	killed      lifecycle.KillResult

	// Submit form
	inputMode  bool
	inputFocus int
	inputs     []textinput.Model
	submitting bool

	// Flash messages
	flashMessage string
	flashIsError bool
	flashExpiry  time.Time

	// Layout
	width  int
	height int

	showHelp bool
}

// NewModel creates a new TUI model
func NewModel(ctx context.Context, svc Services) Model {
	return NewModelWithOptions(ctx, svc, DefaultModelOptions())
}

// NewModelWithOptions creates a new TUI model with custom options
func NewModelWithOptions(ctx context.Context, svc Services, opts ModelOptions) Model {
	inputs := make([]textinput.Model, 2)

	inputs[inputPath] = textinput.New()
	inputs[inputPath].Placeholder = `e.g., Z:\proj\run1`
	inputs[inputPath].Prompt = ""
	inputs[inputPath].Width = 40
	inputs[inputPath].CharLimit = 512

	inputs[inputScript] = textinput.New()
	inputs[inputScript].Placeholder = svc.Config.PBS.SubmitScriptName
	inputs[inputScript].Prompt = ""
	inputs[inputScript].Width = 40
	inputs[inputScript].CharLimit = 256

	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = DefaultLogInterval
	}

	return Model{
		ctx:      ctx,
		svc:      svc,
		opts:     opts,
		inputs:   inputs,
		servers:  newServerStatuses(svc.Config.Servers, svc.Paths),
		fetching: true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJobs(),
		m.startRefreshTicker(),
		m.startLogTicker(),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.inputMode {
			return m.handleInputKeyPress(msg)
		}
		if m.confirm != confirmNone {
			return m.handleConfirmKeyPress(msg)
		}
		return m.handleKeyPress(msg)

	case jobsFetchedMsg:
		m.fetching = false
		m.lastFetch = msg.at
		m.svc.Controller.SetTable(jobs.NewTable(msg.records))
		m.servers = applyReport(m.servers, msg.report, msg.at)
		m.applyView()
		var failed []string
		for _, r := range msg.report {
			if r.Err != nil {
				failed = append(failed, r.Server.Name)
			}
		}
		if len(failed) > 0 {
			cmd := m.setFlash("No jobs from: "+strings.Join(failed, ", "), true)
			return m, cmd
		}
		return m, nil

	case refreshTickMsg:
		cmds := []tea.Cmd{m.startRefreshTicker()}
		if !m.fetching {
			m.fetching = true
			cmds = append(cmds, m.fetchJobs())
		}
		return m, tea.Batch(cmds...)

	case logOpenedMsg:
		if msg.key != m.logKey {
			// The panel was closed or switched while opening
			if msg.session != nil {
				msg.session.Close()
			}
			return m, nil
		}
		m.logLoading = false
		if msg.err != nil {
			m.logContent = fmt.Sprintf("Error: %v", msg.err)
			return m, nil
		}
		m.logSession = msg.session
		m.logContent = msg.chunk.Text
		return m, nil

	case logTickMsg:
		cmds := []tea.Cmd{m.startLogTicker()}
		if m.logSession != nil && !m.logPolling {
			m.logPolling = true
			cmds = append(cmds, m.pollLog(m.logKey, m.logSession))
		}
		return m, tea.Batch(cmds...)

	case logPolledMsg:
		if msg.key != m.logKey {
			return m, nil
		}
		m.logPolling = false
		if msg.err != nil {
			if !errors.Is(msg.err, tail.ErrClosed) && !errors.Is(msg.err, context.Canceled) {
				cmd := m.setFlash(fmt.Sprintf("Log error: %v", msg.err), true)
				return m, cmd
			}
			return m, nil
		}
		if msg.chunk.Text != "" {
			m.logContent = trimLines(m.logContent+msg.chunk.Text, maxLogLines)
		}
		return m, nil

	case jobKilledMsg:
		if msg.err != nil {
			cmd := m.setFlash(fmt.Sprintf("Kill failed: %v", msg.err), true)
			return m, cmd
		}
		flashCmd := m.setFlash(fmt.Sprintf("Job %s killed", msg.result.JobID), false)
		if msg.result.Path != "" {
			m.confirm = confirmRemoveDir
			m.killed = msg.result
		}
		m.fetching = true
		return m, tea.Batch(flashCmd, m.fetchJobs())

	case dirRemovedMsg:
		if msg.err != nil {
			cmd := m.setFlash(fmt.Sprintf("Delete failed: %v", msg.err), true)
			return m, cmd
		}
		cmd := m.setFlash("Deleted job directory: "+msg.path, false)
		return m, cmd

	case jobSubmittedMsg:
		m.submitting = false
		if msg.err != nil {
			cmd := m.setFlash(fmt.Sprintf("Submit failed: %v", msg.err), true)
			return m, cmd
		}
		// Submit refreshed the controller's table
		m.lastFetch = time.Now()
		m.applyView()
		m.selectJob(msg.result.Server.Name, msg.result.JobID)
		cmd := m.setFlash(fmt.Sprintf("Submitted %s on %s", msg.result.JobID, msg.result.Server.Name), false)
		return m, cmd

	case flashExpiredMsg:
		if time.Now().After(m.flashExpiry) {
			m.flashMessage = ""
			m.flashIsError = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Help overlay - dismiss with ? or Esc
	if m.showHelp {
		if key.Matches(msg, keys.Help) || key.Matches(msg, keys.Escape) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, keys.Quit):
		m.closeLog()
		return m, tea.Quit

	case key.Matches(msg, keys.Suspend):
		return m, tea.Suspend

	case key.Matches(msg, keys.Servers):
		if m.viewMode == ViewModeJobs {
			m.viewMode = ViewModeServers
		} else {
			m.viewMode = ViewModeJobs
		}
		return m, nil

	case key.Matches(msg, keys.Up):
		if m.viewMode == ViewModeServers {
			if m.selectedServerIdx > 0 {
				m.selectedServerIdx--
			}
		} else if m.selectedIndex > 0 {
			m.selectedIndex--
		}
		return m, nil

	case key.Matches(msg, keys.Down):
		if m.viewMode == ViewModeServers {
			if m.selectedServerIdx < len(m.servers)-1 {
				m.selectedServerIdx++
			}
		} else if m.selectedIndex < len(m.rows)-1 {
			m.selectedIndex++
		}
		return m, nil

	case key.Matches(msg, keys.Refresh):
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetchJobs()
	}

	if m.viewMode != ViewModeJobs {
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Sort):
		m.sortIndex = (m.sortIndex + 1) % len(jobs.SortFields)
		m.applyView()
		cmd := m.setFlash("Sorted by "+string(m.sortField()), false)
		return m, cmd

	case key.Matches(msg, keys.Filter):
		m.statusFilter = (m.statusFilter + 1) % len(statusFilters)
		m.applyView()
		return m, nil

	case key.Matches(msg, keys.Mine):
		m.mineOnly = !m.mineOnly
		m.applyView()
		return m, nil

	case key.Matches(msg, keys.Logs):
		r, ok := m.highlighted()
		if !ok {
			return m, nil
		}
		cmd := m.openLog(r)
		return m, cmd

	case key.Matches(msg, keys.Escape):
		m.closeLog()
		m.flashMessage = ""
		return m, nil

	case key.Matches(msg, keys.Kill):
		r, ok := m.highlighted()
		if !ok {
			return m, nil
		}
		m.confirm = confirmKill
		m.pendingKill = r
		return m, nil

	case key.Matches(msg, keys.Submit):
		if m.submitting {
			return m, nil
		}
		m.inputMode = true
		m.inputFocus = inputPath
		for i := range m.inputs {
			m.inputs[i].SetValue("")
			m.inputs[i].Blur()
		}
		return m, m.inputs[inputPath].Focus()
	}

	return m, nil
}

// handleConfirmKeyPress answers the kill or delete question. Deleting the
// directory is asked only after the kill succeeded.
func (m Model) handleConfirmKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Yes):
		step := m.confirm
		m.confirm = confirmNone
		if step == confirmKill {
			return m, m.killJob(m.pendingKill)
		}
		return m, m.removeDir(m.killed)

	case key.Matches(msg, keys.No):
		step := m.confirm
		m.confirm = confirmNone
		if step == confirmRemoveDir {
			cmd := m.setFlash("Retained job directory: "+m.killed.Path, false)
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) handleInputKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.inputMode = false
		return m, nil

	case key.Matches(msg, keys.NextForm):
		m.inputs[m.inputFocus].Blur()
		m.inputFocus = (m.inputFocus + 1) % len(m.inputs)
		return m, m.inputs[m.inputFocus].Focus()

	case key.Matches(msg, keys.SendForm):
		local := strings.TrimSpace(m.inputs[inputPath].Value())
		if local == "" {
			cmd := m.setFlash("Path is required", true)
			return m, cmd
		}
		script := strings.TrimSpace(m.inputs[inputScript].Value())
		host, remote, err := m.svc.Paths.ToRemote(local)
		if err != nil {
			cmd := m.setFlash(fmt.Sprintf("%v (use pbs-jobs submit to copy it to a mapped drive)", err), true)
			return m, cmd
		}
		m.inputMode = false
		m.submitting = true
		return m, m.submitJob(host, remote, script)
	}

	var cmd tea.Cmd
	m.inputs[m.inputFocus], cmd = m.inputs[m.inputFocus].Update(msg)
	return m, cmd
}

func (m Model) sortField() jobs.SortField {
	return jobs.SortFields[m.sortIndex]
}

// applyView rebuilds rows from the controller's table, keeping the
// highlighted job selected when it is still listed
func (m *Model) applyView() {
	prev, hadPrev := m.highlighted()

	var preds []func(jobs.Record) bool
	if status := statusFilters[m.statusFilter]; status != "" {
		preds = append(preds, jobs.ByStatus(status))
	}
	if m.mineOnly {
		preds = append(preds, jobs.ByOwner(m.svc.Config.RemoteUser()))
	}
	filtered := jobs.NewTable(m.svc.Controller.Table().Filter(jobs.All(preds...)))
	rows, err := filtered.SortBy(m.sortField())
	if err != nil {
		log.Logger().Warn("sort failed", zap.Error(err))
		rows = filtered.Records()
	}
	m.rows = rows

	if hadPrev {
		m.selectJob(prev.Server, prev.JobID)
	}
	if m.selectedIndex >= len(m.rows) {
		m.selectedIndex = len(m.rows) - 1
	}
	if m.selectedIndex < 0 {
		m.selectedIndex = 0
	}
}

func (m *Model) selectJob(server, jobID string) {
	for i, r := range m.rows {
		if r.Server == server && r.JobID == jobID {
			m.selectedIndex = i
			return
		}
	}
}

func (m Model) highlighted() (jobs.Record, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.rows) {
		return jobs.Record{}, false
	}
	return m.rows[m.selectedIndex], true
}

func (m *Model) closeLog() {
	if m.logSession != nil {
		m.logSession.Close()
	}
	m.logSession = nil
	m.logKey = ""
	m.logContent = ""
	m.logLoading = false
	m.logPolling = false
}

// Flash message duration
const flashDuration = 3 * time.Second

// setFlash sets a flash message and returns a timer command to clear it
func (m *Model) setFlash(msg string, isError bool) tea.Cmd {
	m.flashMessage = msg
	m.flashIsError = isError
	m.flashExpiry = time.Now().Add(flashDuration)
	return tea.Tick(flashDuration, func(t time.Time) tea.Msg {
		return flashExpiredMsg{}
	})
}

func trimLines(s string, max int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	return strings.Join(lines[len(lines)-max:], "\n")
}

// Commands

func (m Model) startRefreshTicker() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

func (m Model) startLogTicker() tea.Cmd {
	return tea.Tick(m.opts.LogInterval, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m Model) fetchJobs() tea.Cmd {
	ctx, fetcher, servers := m.ctx, m.svc.Fetcher, m.svc.Config.Servers
	return func() tea.Msg {
		records, report := fetcher.FetchAllWithReport(ctx, servers)
		return jobsFetchedMsg{records: records, report: report, at: time.Now()}
	}
}

// openLog starts a tail session for r, replacing any open one
func (m *Model) openLog(r jobs.Record) tea.Cmd {
	m.closeLog()
	m.logJob = r
	m.logKey = r.Server + "/" + r.JobID
	m.logLoading = true

	cfg := m.svc.Config
	srv, ok := cfg.ServerByName(r.Server)
	if !ok {
		m.logLoading = false
		m.logContent = fmt.Sprintf("Error: server %s not found in configuration", r.Server)
		return nil
	}
	jobPath, ok := r.Path.Value()
	if !ok {
		m.logLoading = false
		m.logContent = fmt.Sprintf("Error: job %s has no working directory", r.JobID)
		return nil
	}

	ctx, exec, logKey := m.ctx, m.svc.Exec, m.logKey
	path := tail.LogPath(jobPath, cfg.Tail.LogRelPath)
	opts := tail.Options{Lines: cfg.Tail.Lines, Timeout: cfg.ConnectionTimeout()}
	return func() tea.Msg {
		session := tail.New(exec, srv, path, opts)
		chunk, err := session.Open(ctx)
		if err != nil {
			return logOpenedMsg{key: logKey, err: err}
		}
		return logOpenedMsg{key: logKey, session: session, chunk: chunk}
	}
}

func (m Model) pollLog(logKey string, session *tail.Session) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		chunk, err := session.Poll(ctx)
		return logPolledMsg{key: logKey, chunk: chunk, err: err}
	}
}

func (m Model) killJob(r jobs.Record) tea.Cmd {
	ctx, ctl := m.ctx, m.svc.Controller
	return func() tea.Msg {
		result, err := ctl.Kill(ctx, r.JobID, r.Server)
		return jobKilledMsg{result: result, err: err}
	}
}

func (m Model) removeDir(killed lifecycle.KillResult) tea.Cmd {
	ctx, ctl := m.ctx, m.svc.Controller
	return func() tea.Msg {
		err := ctl.RemoveWorkDir(ctx, killed)
		return dirRemovedMsg{path: killed.Path, err: err}
	}
}

func (m Model) submitJob(host, remote, script string) tea.Cmd {
	ctx, ctl := m.ctx, m.svc.Controller
	return func() tea.Msg {
		result, err := ctl.Submit(ctx, host, remote, script)
		return jobSubmittedMsg{result: result, err: err}
	}
}
