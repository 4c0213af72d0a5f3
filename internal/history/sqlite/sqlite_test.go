package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/history"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *Store, run history.Run) {
	t.Helper()
	if err := s.Record(context.Background(), &run); err != nil {
		t.Fatalf("Record(%s): %v", run.ID, err)
	}
}

func TestRecordAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &history.Run{
		ID:         "abc12345-0000-0000-0000-000000000000",
		Mode:       execution.ModeRustlingsCheck,
		Success:    true,
		Output:     "Compiling succeeded!\n\nOutput:\nhi\n",
		DurationMs: 1234,
	}
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("Record should stamp created_at")
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Mode != execution.ModeRustlingsCheck {
		t.Errorf("mode = %q, want rustlings-check", got.Mode)
	}
	if !got.Success || got.TimedOut {
		t.Errorf("success/timed_out = %v/%v, want true/false", got.Success, got.TimedOut)
	}
	if got.Output != run.Output {
		t.Errorf("output = %q, want %q", got.Output, run.Output)
	}
	if got.DurationMs != 1234 {
		t.Errorf("duration = %d, want 1234", got.DurationMs)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
}

func TestRecordRequiresID(t *testing.T) {
	s := testStore(t)
	if err := s.Record(context.Background(), &history.Run{Mode: execution.ModeTest}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestRecordRejectsUnknownMode(t *testing.T) {
	s := testStore(t)
	err := s.Record(context.Background(), &history.Run{ID: "x", Mode: "bench"})
	if err == nil {
		t.Fatal("expected constraint error for unknown mode")
	}
}

func TestGetByPrefix(t *testing.T) {
	s := testStore(t)
	record(t, s, history.Run{ID: "abc12345-0000", Mode: execution.ModeTest})

	got, err := s.Get(context.Background(), "abc12345")
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if got.ID != "abc12345-0000" {
		t.Errorf("got ID %q", got.ID)
	}
}

func TestGetAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	record(t, s, history.Run{ID: "abc00000", Mode: execution.ModeTest})
	record(t, s, history.Run{ID: "abc11111", Mode: execution.ModeTest})

	_, err := s.Get(context.Background(), "abc")
	if !errors.Is(err, history.ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}

func TestGetPrefixIsLiteral(t *testing.T) {
	s := testStore(t)
	record(t, s, history.Run{ID: "abc_1", Mode: execution.ModeTest})
	record(t, s, history.Run{ID: "abcx1", Mode: execution.ModeTest})

	got, err := s.Get(context.Background(), "abc_")
	if err != nil {
		t.Fatalf("Get(abc_): %v", err)
	}
	if got.ID != "abc_1" {
		t.Errorf("got ID %q, want abc_1", got.ID)
	}

	for _, id := range []string{"%", "a%1", "_"} {
		if _, err := s.Get(context.Background(), id); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"", "missing"} {
		_, err := s.Get(context.Background(), id)
		if !errors.Is(err, history.ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record(t, s, history.Run{ID: "old", Mode: execution.ModeTest, CreatedAt: base})
	record(t, s, history.Run{ID: "new", Mode: execution.ModeTest, CreatedAt: base.Add(500 * time.Millisecond)})
	record(t, s, history.Run{ID: "mid", Mode: execution.ModeTest, CreatedAt: base.Add(time.Millisecond)})

	runs, err := s.List(context.Background(), history.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "new" || ids[1] != "mid" || ids[2] != "old" {
		t.Errorf("order = %v, want [new mid old]", ids)
	}
}

func TestListFilters(t *testing.T) {
	s := testStore(t)
	record(t, s, history.Run{ID: "p1", Mode: execution.ModePlayground, Success: true})
	record(t, s, history.Run{ID: "p2", Mode: execution.ModePlayground})
	record(t, s, history.Run{ID: "t1", Mode: execution.ModeTest, Success: true})

	ctx := context.Background()
	runs, err := s.List(ctx, history.ListOptions{Mode: execution.ModePlayground})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d playground runs, want 2", len(runs))
	}

	ok := true
	runs, err = s.List(ctx, history.ListOptions{Success: &ok})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d successful runs, want 2", len(runs))
	}

	failed := false
	runs, err = s.List(ctx, history.ListOptions{Mode: execution.ModePlayground, Success: &failed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "p2" {
		t.Errorf("got %v, want only p2", runs)
	}
}

func TestListLimitOffset(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		record(t, s, history.Run{
			ID:        string(rune('a' + i)),
			Mode:      execution.ModeTest,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	runs, err := s.List(context.Background(), history.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "d" || runs[1].ID != "c" {
		t.Errorf("got %s,%s want d,c", runs[0].ID, runs[1].ID)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	record(t, s, history.Run{ID: "del12345", Mode: execution.ModeTest})

	if err := s.Delete(ctx, "del1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "del12345"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "del12345"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	record(t, s, history.Run{ID: "persisted", Mode: execution.ModePlayground, TimedOut: true})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(context.Background(), "persisted")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !got.TimedOut {
		t.Error("timed_out flag lost across reopen")
	}
}
