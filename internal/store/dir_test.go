package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestIDFromPath(t *testing.T) {
	cases := map[string]logic.EventID{
		"/var/lib/irrigator/lawn.evt": "lawn",
		"beds.evt":                    "beds",
	}
	for path, want := range cases {
		got, ok := IDFromPath(path)
		if !ok || got != want {
			t.Errorf("IDFromPath(%q): got %q %v, want %q", path, got, ok, want)
		}
	}
	for _, path := range []string{"lawn.txt", ".evt", ".lawn-123.tmp", ".hidden.evt"} {
		if _, ok := IDFromPath(path); ok {
			t.Errorf("IDFromPath(%q): expected no id", path)
		}
	}
}

func TestDirSaveAndLoad(t *testing.T) {
	d := NewDir(t.TempDir())

	e := logic.NewEvent("lawn")
	e.SetRelay(1)
	e.SetStartTime(6, 15)
	e.SetDuration(15 * time.Minute)
	e.SetIntervalLen(5 * time.Minute)
	e.SetIntervalPause(10 * time.Minute)
	e.SetStartDays(logic.EveryDay)
	e.SetScheduled(true)

	if err := d.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l, err := d.Load("lawn")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l.Scheduled {
		t.Error("expected persisted schedule request")
	}
	got := l.Event
	if got.State() != logic.Unscheduled {
		t.Errorf("loaded event must start UNSCHEDULED, got %s", got.State())
	}
	if got.Valve() != 1 || got.Duration() != 15*time.Minute || got.IntervalPause() != 10*time.Minute {
		t.Errorf("unexpected loaded config: valve=%d duration=%v pause=%v", got.Valve(), got.Duration(), got.IntervalPause())
	}
	if h, m := got.StartTime(); h != 6 || m != 15 {
		t.Errorf("start: got %02d:%02d", h, m)
	}
}

func TestDirLoadMissing(t *testing.T) {
	d := NewDir(t.TempDir())
	l, err := d.Load("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if l.Event == nil || l.Event.State() != logic.Unscheduled {
		t.Error("expected a default event on failure")
	}
}

func TestDirLoadAllSkipsBadEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.evt", "[relay_number=0]\n[duration=60]\n")
	writeFile(t, dir, "b.evt", "[start_time_hour=99]\n")
	writeFile(t, dir, "c.evt", "[relay_number=2]\ngarbage\n[duration=30]\n")
	writeFile(t, dir, "notes.txt", "ignored")

	loaded, errs := NewDir(dir).LoadAll()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if !errors.Is(errs[0], logic.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", errs[0])
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}
	if loaded[0].Event.ID() != "a" || loaded[1].Event.ID() != "c" {
		t.Errorf("unexpected ids %s, %s", loaded[0].Event.ID(), loaded[1].Event.ID())
	}
	if loaded[1].Event.Duration() != 30*time.Second {
		t.Errorf("line after garbage should still parse, got %v", loaded[1].Event.Duration())
	}
	if len(loaded[1].Report.Malformed) != 1 {
		t.Errorf("expected one malformed line, got %v", loaded[1].Report.Malformed)
	}
}

func TestDirLoadAllMissingDir(t *testing.T) {
	_, errs := NewDir(filepath.Join(t.TempDir(), "missing")).LoadAll()
	if len(errs) != 1 {
		t.Errorf("expected a load failure, got %v", errs)
	}
}

func TestDirDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.evt", "[duration=60]\n")
	d := NewDir(dir)

	if err := d.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Errorf("expected distinct ids, got %q and %q", a, b)
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, dir, "lawn.evt", "[duration=60]\n")
	writeFile(t, dir, "ignored.txt", "x")

	select {
	case c := <-w.Changes():
		if c.ID != "lawn" || c.Removed {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	if err := os.Remove(filepath.Join(dir, "lawn.evt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	select {
	case c := <-w.Changes():
		if c.ID != "lawn" || !c.Removed {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for removal")
	}
}
