package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"presence-bell/internal/adapters/button"
	"presence-bell/internal/adapters/display"
	"presence-bell/internal/domain/counter"
	"presence-bell/internal/domain/presence"
	"presence-bell/internal/domain/update"
	"presence-bell/internal/infra/session"
)

// fakeSession повторяет контракт session.Manager: попытки подключения идут по
// сценарию connects, входящие кадры — из inbox.
type fakeSession struct {
	state    session.State
	connects []bool
	attempts int
	sent     [][]byte
	inbox    [][]byte
	onState  func(session.State)
	history  []session.State
}

func (f *fakeSession) setState(s session.State) {
	if f.state == s {
		return
	}
	f.state = s
	f.history = append(f.history, s)
	if f.onState != nil {
		f.onState(s)
	}
}

func (f *fakeSession) Ensure(context.Context) error {
	if f.state == session.Connected {
		return nil
	}
	ok := false
	if f.attempts < len(f.connects) {
		ok = f.connects[f.attempts]
	}
	f.attempts++
	f.setState(session.Connecting)
	if !ok {
		f.setState(session.Disconnected)
		return errors.New("connection refused")
	}
	f.setState(session.Connected)
	return nil
}

func (f *fakeSession) Send(data []byte) error {
	if f.state != session.Connected {
		return session.ErrNotConnected
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSession) Poll(limit int) [][]byte {
	n := min(limit, len(f.inbox))
	out := f.inbox[:n]
	f.inbox = f.inbox[n:]
	return out
}

func (f *fakeSession) State() session.State   { return f.state }
func (f *fakeSession) NextAttempt() time.Time { return time.Time{} }

type recordingSink struct {
	mu     sync.Mutex
	frames []display.Frame
}

func (r *recordingSink) Render(f display.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) last() display.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type scriptedFetcher struct {
	results []int // отрицательное значение — ошибка
	calls   int
}

func (s *scriptedFetcher) FetchCount(context.Context) (int, error) {
	v := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	if v < 0 {
		return 0, errors.New("count endpoint unreachable")
	}
	return v, nil
}

type fakeUpdater struct {
	checks []bool
}

func (f *fakeUpdater) Check(_ context.Context, silent bool) update.Status {
	f.checks = append(f.checks, silent)
	return update.Status{Phase: update.UpToDate}
}

func newTestLoop(sess *fakeSession, in button.Input, opts LoopOptions) (*Loop, *recordingSink) {
	sink := &recordingSink{}
	opts.Session = sess
	opts.Button = in
	opts.Display = sink
	if opts.DeviceID == "" {
		opts.DeviceID = "Alice"
	}
	opts.FirmwareVersion = "1.0.0"
	opts.Title = "Bell"
	if opts.Tick == 0 {
		opts.Tick = 50 * time.Millisecond
	}
	if opts.MaxFrames == 0 {
		opts.MaxFrames = 16
	}
	l := NewLoop(opts)
	sess.onState = l.OnSessionState
	return l, sink
}

func TestLoop_ConnectRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{connects: []bool{false, false, false, true}}
	l, sink := newTestLoop(sess, &button.Virtual{}, LoopOptions{})

	var statuses []string
	for range 4 {
		l.tick(context.Background())
		statuses = append(statuses, sink.last().Status)
	}

	want := []session.State{
		session.Connecting, session.Disconnected,
		session.Connecting, session.Disconnected,
		session.Connecting, session.Disconnected,
		session.Connecting, session.Connected,
	}
	if !slices.Equal(sess.history, want) {
		t.Fatalf("states = %v, want %v", sess.history, want)
	}
	wantStatuses := []string{StatusFailed, StatusFailed, StatusFailed, StatusReady}
	if !slices.Equal(statuses, wantStatuses) {
		t.Fatalf("statuses = %v, want %v", statuses, wantStatuses)
	}
}

func TestLoop_PressWhileDisconnectedAppliesLocally(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	btn := &button.Virtual{}
	l, sink := newTestLoop(sess, btn, LoopOptions{})

	btn.Press()
	l.tick(context.Background())

	if !l.set.Contains("Alice") {
		t.Fatalf("set = [%s], want Alice present", l.set)
	}
	if len(sess.sent) != 0 {
		t.Fatalf("sent = %d frames, want 0", len(sess.sent))
	}
	f := sink.last()
	if f.Status != StatusDisconnected {
		t.Fatalf("status = %q, want %q", f.Status, StatusDisconnected)
	}
	if len(f.Entries) != 1 || f.Entries[0] != (presence.Entry{Name: "Alice"}) {
		t.Fatalf("entries = %#v, want pending Alice", f.Entries)
	}
}

func TestLoop_EdgesOnly(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{connects: []bool{true}}
	btn := &button.Virtual{}
	l, _ := newTestLoop(sess, btn, LoopOptions{})

	btn.Press()
	for range 3 {
		l.tick(context.Background())
	}
	btn.Release()
	l.tick(context.Background())
	l.tick(context.Background())

	want := []string{
		`{"buttonEvent":"PRESSED","deviceId":"Alice","firmwareVersion":"1.0.0"}`,
		`{"buttonEvent":"RELEASED","deviceId":"Alice","firmwareVersion":"1.0.0"}`,
	}
	got := make([]string, 0, len(sess.sent))
	for _, s := range sess.sent {
		got = append(got, string(s))
	}
	if !slices.Equal(got, want) {
		t.Fatalf("sent = %q, want %q", got, want)
	}
	if l.set.Len() != 0 {
		t.Fatalf("set = [%s], want empty", l.set)
	}
}

func TestLoop_IncomingFrames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		frames     []string
		wantFooter string
		wantSet    []string
	}{
		{
			name:       "нажатие по userId",
			frames:     []string{`{"buttonEvent":"PRESSED","userId":"Bob"}`},
			wantFooter: "Bob PRESSED",
			wantSet:    []string{"Bob"},
		},
		{
			name:       "имя из deviceId",
			frames:     []string{`{"buttonEvent":"PRESSED","deviceId":"dev7"}`},
			wantFooter: "dev7 PRESSED",
			wantSet:    []string{"dev7"},
		},
		{
			name: "нажатие и отпускание",
			frames: []string{
				`{"buttonEvent":"PRESSED","userId":"Bob"}`,
				`{"buttonEvent":"PRESSED","userId":"Eve"}`,
				`{"buttonEvent":"RELEASED","userId":"Bob"}`,
			},
			wantFooter: "Bob RELEASED",
			wantSet:    []string{"Eve"},
		},
		{
			name:       "битый JSON",
			frames:     []string{`{"buttonEvent":"PRESSED","userId":"Bob"}`, `{"buttonEvent":`},
			wantFooter: FooterParseError,
			wantSet:    []string{"Bob"},
		},
		{
			name:       "служебное сообщение",
			frames:     []string{`{"type":"hello"}`},
			wantFooter: FooterMessage,
			wantSet:    []string{},
		},
		{
			name:       "неизвестный тип события",
			frames:     []string{`{"buttonEvent":"WAVE","userId":"Bob"}`},
			wantFooter: "Bob WAVE?",
			wantSet:    []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sess := &fakeSession{connects: []bool{true}}
			for _, f := range tc.frames {
				sess.inbox = append(sess.inbox, []byte(f))
			}
			l, sink := newTestLoop(sess, &button.Virtual{}, LoopOptions{})
			l.tick(context.Background())

			if got := sink.last().Footer; got != tc.wantFooter {
				t.Fatalf("footer = %q, want %q", got, tc.wantFooter)
			}
			if got := l.set.Snapshot(); !slices.Equal(got, tc.wantSet) {
				t.Fatalf("set = %v, want %v", got, tc.wantSet)
			}
		})
	}
}

func TestLoop_RemoteConfirmsLocalPress(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{connects: []bool{true}}
	btn := &button.Virtual{}
	l, sink := newTestLoop(sess, btn, LoopOptions{})

	btn.Press()
	l.tick(context.Background())
	if got := sink.last().Entries; len(got) != 1 || got[0].Confirmed {
		t.Fatalf("entries = %#v, want one pending", got)
	}

	sess.inbox = append(sess.inbox, []byte(`{"buttonEvent":"PRESSED","userId":"Alice"}`))
	l.tick(context.Background())
	if got := sink.last().Entries; len(got) != 1 || !got[0].Confirmed {
		t.Fatalf("entries = %#v, want one confirmed", got)
	}
}

func TestLoop_MaxFramesPerTick(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{connects: []bool{true}}
	for _, name := range []string{"A", "B", "C"} {
		sess.inbox = append(sess.inbox, []byte(`{"buttonEvent":"PRESSED","userId":"`+name+`"}`))
	}
	l, _ := newTestLoop(sess, &button.Virtual{}, LoopOptions{MaxFrames: 2})

	l.tick(context.Background())
	if got := l.set.Snapshot(); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("after first tick set = %v", got)
	}
	l.tick(context.Background())
	if got := l.set.Snapshot(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Fatalf("after second tick set = %v", got)
	}
}

func TestLoop_CountKeepsStaleValue(t *testing.T) {
	t.Parallel()

	fetch := &scriptedFetcher{results: []int{3, -1}}
	sess := &fakeSession{connects: []bool{true}}
	l, sink := newTestLoop(sess, &button.Virtual{}, LoopOptions{
		Count:      counter.NewPoller(fetch, time.Second, nil),
		Tick:       time.Second,
		CountEvery: time.Second,
	})

	l.tick(context.Background())
	if got := sink.last().Count; got.Count != 3 || got.Err || !got.Valid {
		t.Fatalf("count after success = %+v", got)
	}
	l.tick(context.Background())
	if got := sink.last().Count; got.Count != 3 || !got.Err {
		t.Fatalf("count after failure = %+v, want 3 with error flag", got)
	}
}

func TestLoop_SchedulesSilentUpdateChecks(t *testing.T) {
	t.Parallel()

	upd := &fakeUpdater{}
	sess := &fakeSession{connects: []bool{true}}
	l, _ := newTestLoop(sess, &button.Virtual{}, LoopOptions{
		Updates:     upd,
		Tick:        time.Second,
		UpdateEvery: 2 * time.Second,
	})

	for range 5 {
		l.tick(context.Background())
	}
	if !slices.Equal(upd.checks, []bool{true, true}) {
		t.Fatalf("checks = %v, want two silent checks", upd.checks)
	}
}

func TestLoop_UpdateOverlay(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	l, sink := newTestLoop(sess, &button.Virtual{}, LoopOptions{})

	l.ShowUpdate(&update.Status{Phase: update.Downloading, Progress: 40})
	if got := sink.last().Update; got != "Updating 40%" {
		t.Fatalf("update = %q", got)
	}
	l.ShowUpdate(nil)
	if got := sink.last().Update; got != "" {
		t.Fatalf("update = %q, want empty", got)
	}
}

func TestLoop_ConsoleRequests(t *testing.T) {
	t.Parallel()

	upd := &fakeUpdater{}
	fetch := &scriptedFetcher{results: []int{7}}
	sess := &fakeSession{connects: []bool{true}}
	sess.inbox = append(sess.inbox, []byte(`{"buttonEvent":"PRESSED","userId":"Bob"}`))
	l, _ := newTestLoop(sess, &button.Virtual{}, LoopOptions{
		Updates:     upd,
		Count:       counter.NewPoller(fetch, time.Second, nil),
		Tick:        time.Millisecond,
		UpdateEvery: time.Hour,
		CountEvery:  time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	st, err := l.Status(reqCtx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Session != "Connected" || st.Status != StatusReady || !slices.Equal(st.Present, []string{"Bob"}) {
		t.Fatalf("Status() = %+v", st)
	}

	res, err := l.CheckUpdate(reqCtx)
	if err != nil {
		t.Fatalf("CheckUpdate() error = %v", err)
	}
	if res.Phase != "up-to-date" {
		t.Fatalf("CheckUpdate() = %+v", res)
	}

	cnt, err := l.RefreshCount(reqCtx)
	if err != nil {
		t.Fatalf("RefreshCount() error = %v", err)
	}
	if cnt.Count != 7 || !cnt.Valid {
		t.Fatalf("RefreshCount() = %+v", cnt)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(upd.checks, []bool{false}) {
		t.Fatalf("checks = %v, want one interactive check", upd.checks)
	}
	// Первый опрос при старте, второй — по команде count через планировщик.
	if fetch.calls != 2 {
		t.Fatalf("fetch calls = %d, want 2", fetch.calls)
	}
}
