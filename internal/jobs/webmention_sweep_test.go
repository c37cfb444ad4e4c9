package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockStaleLister struct {
	rows []StaleWebmention
	err  error
}

func (m *mockStaleLister) ListStale(ctx context.Context, olderThan time.Duration) ([]StaleWebmention, error) {
	return m.rows, m.err
}

type mockResender struct {
	calls [][2]any // source, targets
}

func (m *mockResender) Send(ctx context.Context, source string, targets []string) {
	m.calls = append(m.calls, [2]any{source, targets})
}

func TestWebmentionSweepJob_RunOnce_ResendsEachStaleRow(t *testing.T) {
	lister := &mockStaleLister{rows: []StaleWebmention{
		{Source: "https://a.example/p1", Target: "https://b.example/reply"},
		{Source: "https://a.example/p2", Target: "https://c.example/reply"},
	}}
	resender := &mockResender{}
	job := NewWebmentionSweepJob(lister, resender, time.Minute)

	n := job.RunOnce(context.Background())

	if n != 2 {
		t.Fatalf("expected 2 restarted deliveries, got %d", n)
	}
	if len(resender.calls) != 2 {
		t.Fatalf("expected Send called twice, got %d", len(resender.calls))
	}
	if resender.calls[0][0] != "https://a.example/p1" {
		t.Errorf("unexpected source on first call: %v", resender.calls[0][0])
	}
}

func TestWebmentionSweepJob_RunOnce_ListError_ReturnsZero(t *testing.T) {
	lister := &mockStaleLister{err: errors.New("db unavailable")}
	resender := &mockResender{}
	job := NewWebmentionSweepJob(lister, resender, time.Minute)

	n := job.RunOnce(context.Background())

	if n != 0 {
		t.Fatalf("expected 0 on list error, got %d", n)
	}
	if len(resender.calls) != 0 {
		t.Fatalf("expected no Send calls on list error, got %d", len(resender.calls))
	}
}

func TestNewWebmentionSweepJob_ZeroAfterDefaultsToStaleAfter(t *testing.T) {
	job := NewWebmentionSweepJob(&mockStaleLister{}, &mockResender{}, 0)
	if job.after != DefaultWebmentionStaleAfter {
		t.Errorf("expected after to default to %v, got %v", DefaultWebmentionStaleAfter, job.after)
	}
}

func TestWebmentionSweepJob_RunScheduled_StopsOnCancel(t *testing.T) {
	lister := &mockStaleLister{}
	job := NewWebmentionSweepJob(lister, &mockResender{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunScheduled(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop within timeout")
	}
}
