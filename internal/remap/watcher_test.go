package remap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
)

type fakeSSM struct {
	value string
	err   error
	calls int
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(f.value)},
	}, nil
}

type fakeWatcherMetrics struct{ swaps, errs int }

func (m *fakeWatcherMetrics) IncRemapSwaps()  { m.swaps++ }
func (m *fakeWatcherMetrics) IncRemapErrors() { m.errs++ }

func newTestWatcher(t *testing.T, f *fakeSSM, tbl *Table, m *fakeWatcherMetrics) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherOptions{
		Logger:  log.Nop(),
		Client:  f,
		Param:   "/assets/aliases",
		Table:   tbl,
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func TestNewWatcher_Validation(t *testing.T) {
	tbl := New(nil)
	if _, err := NewWatcher(WatcherOptions{Param: "p", Table: tbl}); err == nil {
		t.Fatal("expected error for missing client")
	}
	if _, err := NewWatcher(WatcherOptions{Client: &fakeSSM{}, Table: tbl}); err == nil {
		t.Fatal("expected error for missing param")
	}
	if _, err := NewWatcher(WatcherOptions{Client: &fakeSSM{}, Param: "p"}); err == nil {
		t.Fatal("expected error for missing table")
	}
	w, err := NewWatcher(WatcherOptions{Client: &fakeSSM{}, Param: "p", Table: tbl})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.interval != DefaultPollInterval {
		t.Fatalf("interval = %v, want default", w.interval)
	}
}

func TestCheckOnce_SwapsOnChange(t *testing.T) {
	f := &fakeSSM{value: "aliases:\n  x: y\n"}
	tbl := New(nil)
	m := &fakeWatcherMetrics{}
	w := newTestWatcher(t, f, tbl, m)

	if err := w.checkOnce(t.Context()); err != nil {
		t.Fatalf("checkOnce: %v", err)
	}
	if tbl.Resolve("x") != "y" {
		t.Fatal("table should be swapped")
	}
	// unchanged document is a no-op
	if err := w.checkOnce(t.Context()); err != nil {
		t.Fatalf("checkOnce: %v", err)
	}
	if m.swaps != 1 {
		t.Fatalf("swaps = %d, want 1", m.swaps)
	}

	f.value = "aliases:\n  x: z\n"
	if err := w.checkOnce(t.Context()); err != nil {
		t.Fatalf("checkOnce: %v", err)
	}
	if tbl.Resolve("x") != "z" || m.swaps != 2 {
		t.Fatalf("expected second swap, Resolve(x)=%q swaps=%d", tbl.Resolve("x"), m.swaps)
	}
}

func TestCheckOnce_BadDocumentKeepsTable(t *testing.T) {
	f := &fakeSSM{value: "aliases:\n  a: b\n"}
	tbl := New(nil)
	m := &fakeWatcherMetrics{}
	w := newTestWatcher(t, f, tbl, m)
	_ = w.checkOnce(t.Context())

	f.value = "aliases: [broken"
	if err := w.checkOnce(t.Context()); err != nil {
		t.Fatalf("bad document should not be a poll error: %v", err)
	}
	if tbl.Resolve("a") != "b" {
		t.Fatal("bad document must not replace the table")
	}
	if m.errs != 1 {
		t.Fatalf("errs = %d, want 1", m.errs)
	}
}

func TestCheckOnce_SSMError(t *testing.T) {
	f := &fakeSSM{err: errors.New("throttled")}
	m := &fakeWatcherMetrics{}
	w := newTestWatcher(t, f, New(nil), m)
	if err := w.checkOnce(t.Context()); err == nil {
		t.Fatal("expected error")
	}
	if m.errs != 1 {
		t.Fatalf("errs = %d, want 1", m.errs)
	}
}

func TestBackoffDuration(t *testing.T) {
	w := &Watcher{interval: 30 * time.Second}
	tests := []struct {
		errs int
		want time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{3, 240 * time.Second},
		{4, maxBackoff},
		{20, maxBackoff},
	}
	for _, tt := range tests {
		w.consecutiveErrs = tt.errs
		if got := w.backoffDuration(); got != tt.want {
			t.Fatalf("errs=%d: backoff = %v, want %v", tt.errs, got, tt.want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &fakeSSM{value: "aliases:\n  a: b\n"}
	tbl := New(nil)
	w := newTestWatcher(t, f, tbl, nil)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for tbl.Resolve("a") != "b" {
		select {
		case <-deadline:
			t.Fatal("watcher never swapped the table")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
