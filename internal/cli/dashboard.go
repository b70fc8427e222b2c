package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

type dashboardPanel int

const (
	dashboardPanelJobs dashboardPanel = iota
	dashboardPanelSubscriptions
)

type dashboardMode int

const (
	dashboardModeBrowse dashboardMode = iota
	dashboardModeAddVideo
)

const dashboardRefreshInterval = time.Second

type dashboardSubscription struct {
	ID        int64
	Channel   string
	SourceURL string
	Enabled   bool
	LastCheck *time.Time
	Next      time.Time
}

type dashboardSnapshot struct {
	Active        []model.DownloadProgress
	Jobs          []model.Job
	Subscriptions []dashboardSubscription
	Gateway       ytdlp.Status
}

// dashboardBackend is what the dashboard reads and drives. serve provides
// the live implementation.
type dashboardBackend interface {
	Snapshot(ctx context.Context) (dashboardSnapshot, error)
	SubmitVideo(ctx context.Context, input string) (string, error)
	CheckNow(ctx context.Context, subscriptionID int64) (string, error)
	CancelJob(ctx context.Context, id string) (string, error)
	RetryJob(ctx context.Context, id string) (string, error)
}

type dashboardModel struct {
	backend dashboardBackend
	snap    dashboardSnapshot
	panel   dashboardPanel
	cursor  int
	mode    dashboardMode
	input   textinput.Model
	width   int
	height  int

	statusMessage string
	statusErr     bool
	busy          bool
}

type dashboardSnapshotMsg struct {
	snap dashboardSnapshot
	err  error
}

type dashboardActionMsg struct {
	message string
	err     error
}

type dashboardTickMsg time.Time

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dashFocusStyle = dashPanelStyle.BorderForeground(lipgloss.Color("62"))
	dashSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func newDashboardModel(b dashboardBackend) dashboardModel {
	in := textinput.New()
	in.Placeholder = "video URL or id"
	in.CharLimit = 256
	return dashboardModel{backend: b, input: in}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), dashboardTick())
}

func dashboardTick() tea.Cmd {
	return tea.Tick(dashboardRefreshInterval, func(t time.Time) tea.Msg { return dashboardTickMsg(t) })
}

func (m dashboardModel) refreshCmd() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := b.Snapshot(ctx)
		return dashboardSnapshotMsg{snap: snap, err: err}
	}
}

func actionCmd(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		msg, err := fn(ctx)
		return dashboardActionMsg{message: msg, err: err}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampInt(m.width-20, 20, 80)
		return m, nil
	case dashboardTickMsg:
		return m, tea.Batch(m.refreshCmd(), dashboardTick())
	case dashboardSnapshotMsg:
		if msg.err != nil {
			m.setStatus("refresh failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.snap = msg.snap
		m.cursor = clampInt(m.cursor, 0, maxInt(m.rows()-1, 0))
		return m, nil
	case dashboardActionMsg:
		m.busy = false
		if msg.err != nil {
			m.setStatus("error: "+msg.err.Error(), true)
		} else {
			m.setStatus(msg.message, false)
		}
		return m, m.refreshCmd()
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.mode == dashboardModeAddVideo {
		return m.updateInput(keyMsg)
	}
	return m.updateBrowse(keyMsg)
}

func (m *dashboardModel) setStatus(msg string, isErr bool) {
	m.statusMessage = msg
	m.statusErr = isErr
}

func (m dashboardModel) rows() int {
	if m.panel == dashboardPanelSubscriptions {
		return len(m.snap.Subscriptions)
	}
	return len(m.snap.Jobs)
}

func (m dashboardModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.panel == dashboardPanelJobs {
			m.panel = dashboardPanelSubscriptions
		} else {
			m.panel = dashboardPanelJobs
		}
		m.cursor = 0
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < m.rows()-1 {
			m.cursor++
		}
		return m, nil
	case "r":
		return m, m.refreshCmd()
	case "a":
		m.mode = dashboardModeAddVideo
		m.input.SetValue("")
		m.input.Focus()
		m.statusMessage = ""
		return m, textinput.Blink
	}

	if m.busy {
		return m, nil
	}
	b := m.backend
	switch msg.String() {
	case "c", "enter":
		sub, ok := m.selectedSubscription()
		if !ok {
			m.setStatus("select a subscription to check", true)
			return m, nil
		}
		m.busy = true
		return m, actionCmd(func(ctx context.Context) (string, error) { return b.CheckNow(ctx, sub.ID) })
	case "x":
		job, ok := m.selectedJob()
		if !ok {
			m.setStatus("select a job to cancel", true)
			return m, nil
		}
		m.busy = true
		return m, actionCmd(func(ctx context.Context) (string, error) { return b.CancelJob(ctx, job.ID) })
	case "t":
		job, ok := m.selectedJob()
		if !ok {
			m.setStatus("select a job to retry", true)
			return m, nil
		}
		m.busy = true
		return m, actionCmd(func(ctx context.Context) (string, error) { return b.RetryJob(ctx, job.ID) })
	}
	return m, nil
}

func (m dashboardModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = dashboardModeBrowse
		m.input.Blur()
		m.setStatus("add cancelled", false)
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			m.setStatus("enter a video URL or id", true)
			return m, nil
		}
		m.mode = dashboardModeBrowse
		m.input.Blur()
		m.busy = true
		m.setStatus("submitting "+value+"...", false)
		b := m.backend
		return m, actionCmd(func(ctx context.Context) (string, error) { return b.SubmitVideo(ctx, value) })
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m dashboardModel) selectedSubscription() (dashboardSubscription, bool) {
	if m.panel != dashboardPanelSubscriptions || m.cursor >= len(m.snap.Subscriptions) {
		return dashboardSubscription{}, false
	}
	return m.snap.Subscriptions[m.cursor], true
}

func (m dashboardModel) selectedJob() (model.Job, bool) {
	if m.panel != dashboardPanelJobs || m.cursor >= len(m.snap.Jobs) {
		return model.Job{}, false
	}
	return m.snap.Jobs[m.cursor], true
}

func (m dashboardModel) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	header := dashTitleStyle.Render("you-hoard") + "  " + m.gatewayLine() + "\n" +
		dashMutedStyle.Render("tab: switch panel | up/down: move | a: add video | c: check now | x: cancel | t: retry | r: refresh | q: quit")

	active := m.renderActive(width)
	jobs := m.renderJobs(width)
	subs := m.renderSubscriptions(width)
	parts := []string{header, active, jobs, subs}
	if m.mode == dashboardModeAddVideo {
		parts = append(parts, dashFocusStyle.Width(width-2).Render("Add video\n"+m.input.View()))
	}
	parts = append(parts, m.renderStatusLine())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m dashboardModel) gatewayLine() string {
	g := m.snap.Gateway
	if g.IsBackingOff {
		return dashErrorStyle.Render(fmt.Sprintf("gateway backing off %.0fs (failures %d)", g.NextAvailableIn, g.FailureCount))
	}
	return dashOKStyle.Render("gateway ok") + dashMutedStyle.Render(fmt.Sprintf("  calls %d", g.TotalCalls))
}

func (m dashboardModel) renderActive(width int) string {
	lines := []string{"Active"}
	if len(m.snap.Active) == 0 {
		lines = append(lines, dashMutedStyle.Render("idle"))
	}
	for _, p := range m.snap.Active {
		line := fmt.Sprintf("%-8s %-28s %5.1f%%  %s  %s", shortID(p.JobID), p.JobType, p.Percent, p.Speed, p.ETA)
		lines = append(lines, truncateRunes(line, maxInt(width-6, 10)))
	}
	return dashPanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m dashboardModel) renderJobs(width int) string {
	lines := []string{"Jobs"}
	if len(m.snap.Jobs) == 0 {
		lines = append(lines, dashMutedStyle.Render("queue empty"))
	}
	maxRows := clampInt(m.height/3, 4, 12)
	cursor := -1
	if m.panel == dashboardPanelJobs {
		cursor = m.cursor
	}
	start, end := listWindow(len(m.snap.Jobs), maxInt(cursor, 0), maxRows)
	for i := start; i < end; i++ {
		j := m.snap.Jobs[i]
		line := fmt.Sprintf("%-8s %-10s p%-2d %-26s %s", shortID(j.ID), j.Status, j.Priority, j.Type, j.Target())
		if j.ErrorMessage != "" {
			line += "  " + j.ErrorMessage
		}
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == cursor {
			line = dashSelStyle.Width(maxInt(width-6, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	style := dashPanelStyle
	if m.panel == dashboardPanelJobs {
		style = dashFocusStyle
	}
	return style.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m dashboardModel) renderSubscriptions(width int) string {
	lines := []string{"Subscriptions"}
	if len(m.snap.Subscriptions) == 0 {
		lines = append(lines, dashMutedStyle.Render("none yet; use `you-hoard subscribe`"))
	}
	cursor := -1
	if m.panel == dashboardPanelSubscriptions {
		cursor = m.cursor
	}
	for i, s := range m.snap.Subscriptions {
		state := "on "
		if !s.Enabled {
			state = "off"
		}
		next := "-"
		if !s.Next.IsZero() {
			next = s.Next.Local().Format("Jan 02 15:04")
		}
		line := fmt.Sprintf("#%-4d [%s] %-24s next %s  %s", s.ID, state, truncateRunes(s.Channel, 24), next, s.SourceURL)
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == cursor {
			line = dashSelStyle.Width(maxInt(width-6, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	style := dashPanelStyle
	if m.panel == dashboardPanelSubscriptions {
		style = dashFocusStyle
	}
	return style.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m dashboardModel) renderStatusLine() string {
	if m.statusMessage == "" {
		return ""
	}
	if m.statusErr {
		return dashErrorStyle.Render(m.statusMessage)
	}
	return dashOKStyle.Render(m.statusMessage)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// serverBackend drives the dashboard from the running server.
type serverBackend struct {
	s *server
}

func (b serverBackend) Snapshot(ctx context.Context) (dashboardSnapshot, error) {
	snap := dashboardSnapshot{Gateway: b.s.gateway.Status()}
	for _, p := range b.s.processor.GetActive() {
		snap.Active = append(snap.Active, p)
	}
	sort.Slice(snap.Active, func(i, j int) bool { return snap.Active[i].StartedAt.Before(snap.Active[j].StartedAt) })

	jobs, err := b.s.queue.ListJobs(ctx, store.JobFilter{
		Statuses: []string{model.JobStatusProcessing, model.JobStatusQueued, model.JobStatusFailed},
		Limit:    50,
	})
	if err != nil {
		return snap, err
	}
	snap.Jobs = jobs

	next := map[int64]time.Time{}
	for _, e := range b.s.scheduler.Scheduled() {
		next[e.SubscriptionID] = e.Next
	}
	subs, err := b.s.store.ListSubscriptions(ctx, false)
	if err != nil {
		return snap, err
	}
	for _, sub := range subs {
		name := "channel " + strconv.FormatInt(sub.ChannelID, 10)
		if ch, err := b.s.store.GetChannel(ctx, sub.ChannelID); err == nil {
			name = ch.Name
		}
		snap.Subscriptions = append(snap.Subscriptions, dashboardSubscription{
			ID:        sub.ID,
			Channel:   name,
			SourceURL: sub.SourceURL,
			Enabled:   sub.Enabled,
			LastCheck: sub.LastCheck,
			Next:      next[sub.ID],
		})
	}
	return snap, nil
}

func (b serverBackend) SubmitVideo(ctx context.Context, input string) (string, error) {
	res, err := b.s.library.SubmitVideo(ctx, input, "")
	if err != nil {
		return "", err
	}
	if res.Existing {
		return fmt.Sprintf("%s already in library (%s)", res.Video.ExternalID, res.Video.DownloadStatus), nil
	}
	return fmt.Sprintf("queued %s as job %s", res.Video.Title, shortID(res.JobID)), nil
}

func (b serverBackend) CheckNow(ctx context.Context, id int64) (string, error) {
	jobID, err := b.s.library.CheckNow(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("check queued for subscription %d (job %s)", id, shortID(jobID)), nil
}

func (b serverBackend) CancelJob(ctx context.Context, id string) (string, error) {
	if !b.s.processor.Cancel(ctx, id) {
		return "", fmt.Errorf("job %s is not running", shortID(id))
	}
	return "cancelled job " + shortID(id), nil
}

func (b serverBackend) RetryJob(ctx context.Context, id string) (string, error) {
	if err := b.s.queue.Retry(ctx, id); err != nil {
		return "", err
	}
	return "requeued job " + shortID(id), nil
}
