package update_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"presence-bell/internal/domain/update"
)

type fakeChecker struct {
	outcome update.Outcome
	err     error
	chunks  [][2]int64
}

func (f *fakeChecker) CheckAndInstall(_ context.Context, _ string, progress update.ProgressFunc) (update.Outcome, error) {
	for _, c := range f.chunks {
		progress(c[0], c[1])
	}
	return f.outcome, f.err
}

type recorder struct {
	screens []string
	slept   []time.Duration
}

func (r *recorder) report(st *update.Status) {
	if st == nil {
		r.screens = append(r.screens, "<normal>")
		return
	}
	r.screens = append(r.screens, st.Message())
}

func (r *recorder) sleep(_ context.Context, d time.Duration) {
	r.slept = append(r.slept, d)
}

func newSupervisor(c update.Checker, r *recorder, restart func()) *update.Supervisor {
	return update.NewSupervisor(update.Options{
		Checker: c,
		Version: "1.0.0",
		Report:  r.report,
		Restart: restart,
		Hold:    2 * time.Second,
		Sleep:   r.sleep,
	})
}

func TestSupervisor_Check(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		checker   *fakeChecker
		silent    bool
		wantPhase update.Phase
		screens   []string
		holds     int
	}{
		{
			name:      "интерактивно, обновлений нет",
			checker:   &fakeChecker{outcome: update.NoUpdate},
			wantPhase: update.UpToDate,
			screens:   []string{"Checking update...", "Firmware up to date", "<normal>"},
			holds:     1,
		},
		{
			name:      "фоново, обновлений нет — экран не трогаем",
			checker:   &fakeChecker{outcome: update.NoUpdate},
			silent:    true,
			wantPhase: update.UpToDate,
			screens:   []string{"<normal>"},
			holds:     0,
		},
		{
			name:      "фоново, ошибка показывается",
			checker:   &fakeChecker{err: errors.New("dial tcp: connection refused")},
			silent:    true,
			wantPhase: update.Failed,
			screens:   []string{"Update failed: dial tcp: connection refused", "<normal>"},
			holds:     1,
		},
		{
			name: "прогресс загрузки без повторов",
			checker: &fakeChecker{
				err:    errors.New("short read"),
				chunks: [][2]int64{{0, 200}, {1, 200}, {100, 200}, {200, 200}},
			},
			silent:    true,
			wantPhase: update.Failed,
			screens:   []string{"Updating 0%", "Updating 50%", "Updating 100%", "Update failed: short read", "<normal>"},
			holds:     1,
		},
		{
			name:      "неизвестный размер",
			checker:   &fakeChecker{chunks: [][2]int64{{10, -1}, {20, -1}}},
			silent:    true,
			wantPhase: update.UpToDate,
			screens:   []string{"Updating...", "<normal>"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &recorder{}
			got := newSupervisor(tc.checker, r, nil).Check(context.Background(), tc.silent)
			if got.Phase != tc.wantPhase {
				t.Fatalf("Check() phase = %v, want %v", got.Phase, tc.wantPhase)
			}
			if !reflect.DeepEqual(r.screens, tc.screens) {
				t.Fatalf("screens = %q, want %q", r.screens, tc.screens)
			}
			if len(r.slept) != tc.holds {
				t.Fatalf("holds = %d, want %d", len(r.slept), tc.holds)
			}
		})
	}
}

func TestSupervisor_InstalledRestarts(t *testing.T) {
	t.Parallel()

	restarted := false
	r := &recorder{}
	s := newSupervisor(&fakeChecker{outcome: update.InstalledUpdate}, r, func() { restarted = true })

	st := s.Check(context.Background(), true)
	if st.Phase != update.Installed || !restarted {
		t.Fatalf("Check() = %+v restarted=%v, want installed and restarted", st, restarted)
	}
	if last := r.screens[len(r.screens)-1]; last != "Update OK, restarting" {
		t.Fatalf("last screen = %q", last)
	}
}

func TestSupervisor_ReporterPanicDoesNotAbort(t *testing.T) {
	t.Parallel()

	s := update.NewSupervisor(update.Options{
		Checker: &fakeChecker{outcome: update.NoUpdate, chunks: [][2]int64{{1, 2}}},
		Report:  func(*update.Status) { panic("display gone") },
		Sleep:   func(context.Context, time.Duration) {},
	})
	if st := s.Check(context.Background(), false); st.Phase != update.UpToDate {
		t.Fatalf("Check() = %+v, want up-to-date", st)
	}
}

func TestSupervisor_NilReporter(t *testing.T) {
	t.Parallel()

	s := update.NewSupervisor(update.Options{
		Checker: &fakeChecker{outcome: update.NoUpdate},
		Sleep:   func(context.Context, time.Duration) {},
	})
	if st := s.Check(context.Background(), false); st.Phase != update.UpToDate {
		t.Fatalf("Check() = %+v", st)
	}
}
