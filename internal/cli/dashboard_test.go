package cli

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"you-hoard/internal/model"
	"you-hoard/internal/ytdlp"
)

type fakeDashboardBackend struct {
	snap      dashboardSnapshot
	submitted []string
	checked   []int64
	cancelled []string
	retried   []string
}

func (f *fakeDashboardBackend) Snapshot(context.Context) (dashboardSnapshot, error) {
	return f.snap, nil
}

func (f *fakeDashboardBackend) SubmitVideo(_ context.Context, input string) (string, error) {
	f.submitted = append(f.submitted, input)
	return "queued " + input, nil
}

func (f *fakeDashboardBackend) CheckNow(_ context.Context, id int64) (string, error) {
	f.checked = append(f.checked, id)
	return "checked", nil
}

func (f *fakeDashboardBackend) CancelJob(_ context.Context, id string) (string, error) {
	f.cancelled = append(f.cancelled, id)
	return "cancelled", nil
}

func (f *fakeDashboardBackend) RetryJob(_ context.Context, id string) (string, error) {
	f.retried = append(f.retried, id)
	return "retried", nil
}

func loadedDashboard(t *testing.T, b *fakeDashboardBackend) dashboardModel {
	t.Helper()
	m := newDashboardModel(b)
	model, _ := m.Update(dashboardSnapshotMsg{snap: b.snap})
	return model.(dashboardModel)
}

func sampleSnapshot() dashboardSnapshot {
	return dashboardSnapshot{
		Jobs: []model.Job{
			{ID: "job-processing-1", Type: model.JobTypeDownload, Status: model.JobStatusProcessing, VideoID: 1},
			{ID: "job-failed-2", Type: model.JobTypeDownload, Status: model.JobStatusFailed, VideoID: 2, ErrorMessage: "boom"},
		},
		Subscriptions: []dashboardSubscription{
			{ID: 7, Channel: "Example", SourceURL: "https://www.youtube.com/@example", Enabled: true},
			{ID: 9, Channel: "Other", SourceURL: "https://www.youtube.com/@other"},
		},
		Gateway: ytdlp.Status{IsBackingOff: true, NextAvailableIn: 12, FailureCount: 3},
	}
}

func press(t *testing.T, m dashboardModel, msg tea.KeyMsg) (dashboardModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(dashboardModel), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDashboardCursorAndPanelSwitch(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 1 {
		t.Fatalf("expected cursor 1 after down, got %d", m.cursor)
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 1 {
		t.Fatalf("cursor must stop at the last job, got %d", m.cursor)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.panel != dashboardPanelSubscriptions || m.cursor != 0 {
		t.Fatalf("expected subscriptions panel with cursor reset, got panel=%d cursor=%d", m.panel, m.cursor)
	}
}

func TestDashboardCheckNowNeedsSubscriptionPanel(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	m, cmd := press(t, m, runes("c"))
	if cmd != nil {
		t.Fatal("check on the jobs panel must not run a command")
	}
	if !m.statusErr || !strings.Contains(m.statusMessage, "subscription") {
		t.Fatalf("expected selection error, got %q", m.statusMessage)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, cmd = press(t, m, runes("c"))
	if cmd == nil {
		t.Fatal("expected check command")
	}
	if !m.busy {
		t.Fatal("expected busy while the action runs")
	}
	msg := cmd()
	if len(b.checked) != 1 || b.checked[0] != 9 {
		t.Fatalf("expected check of subscription 9, got %v", b.checked)
	}

	next, _ := m.Update(msg)
	m = next.(dashboardModel)
	if m.busy || m.statusErr || m.statusMessage != "checked" {
		t.Fatalf("unexpected state after action: busy=%v err=%v msg=%q", m.busy, m.statusErr, m.statusMessage)
	}
}

func TestDashboardAddVideoFlow(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	m, _ = press(t, m, runes("a"))
	if m.mode != dashboardModeAddVideo {
		t.Fatal("expected add-video mode")
	}
	m, _ = press(t, m, runes("dQw4w9WgXcQ"))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != dashboardModeBrowse {
		t.Fatal("expected browse mode after submit")
	}
	if cmd == nil {
		t.Fatal("expected submit command")
	}
	if _, ok := cmd().(dashboardActionMsg); !ok {
		t.Fatal("expected action message from submit command")
	}
	if len(b.submitted) != 1 || b.submitted[0] != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected submissions: %v", b.submitted)
	}
}

func TestDashboardAddVideoEscCancels(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	m, _ = press(t, m, runes("a"))
	m, _ = press(t, m, runes("abc"))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.mode != dashboardModeBrowse {
		t.Fatal("expected browse mode after esc")
	}
	if cmd != nil {
		t.Fatal("esc must not run a command")
	}
	if len(b.submitted) != 0 {
		t.Fatalf("nothing should be submitted, got %v", b.submitted)
	}
}

func TestDashboardRetryAndCancelSelectedJob(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	_, cmd := press(t, m, runes("x"))
	if cmd == nil {
		t.Fatal("expected cancel command")
	}
	cmd()
	if len(b.cancelled) != 1 || b.cancelled[0] != "job-processing-1" {
		t.Fatalf("unexpected cancels: %v", b.cancelled)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	_, cmd = press(t, m, runes("t"))
	if cmd == nil {
		t.Fatal("expected retry command")
	}
	cmd()
	if len(b.retried) != 1 || b.retried[0] != "job-failed-2" {
		t.Fatalf("unexpected retries: %v", b.retried)
	}
}

func TestDashboardViewShowsGatewayAndRows(t *testing.T) {
	b := &fakeDashboardBackend{snap: sampleSnapshot()}
	m := loadedDashboard(t, b)

	view := m.View()
	for _, want := range []string{"you-hoard", "backing off", "job-fail", "Example"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}
