package lifecycle_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"presence-bell/internal/infra/lifecycle"
)

type journal struct {
	events []string
}

func (j *journal) node(name string) (lifecycle.StartFunc, lifecycle.StopFunc) {
	start := func(context.Context) error {
		j.events = append(j.events, "start "+name)
		return nil
	}
	stop := func() error {
		j.events = append(j.events, "stop "+name)
		return nil
	}
	return start, stop
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	t.Parallel()

	j := &journal{}
	m := lifecycle.New(context.Background())

	for _, nd := range []struct {
		name string
		deps []string
	}{
		{name: "identity"},
		{name: "session"},
		{name: "loop", deps: []string{"session", "identity"}},
		{name: "console", deps: []string{"loop"}},
	} {
		start, stop := j.node(nd.name)
		if err := m.Register(nd.name, nd.deps, start, stop); err != nil {
			t.Fatalf("Register(%s) error = %v", nd.name, err)
		}
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}

	want := []string{
		"start identity", "start session", "start loop", "start console",
		"stop console", "stop loop", "stop session", "stop identity",
	}
	if !slices.Equal(j.events, want) {
		t.Fatalf("events = %v, want %v", j.events, want)
	}
}

func TestManager_NodeContextCanceledBeforeStop(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())
	var nodeCtx context.Context
	canceledAtStop := false
	err := m.Register("loop", nil,
		func(ctx context.Context) error { nodeCtx = ctx; return nil },
		func() error { canceledAtStop = nodeCtx.Err() != nil; return nil },
	)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !canceledAtStop {
		t.Fatalf("node context was still active in StopFunc")
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	t.Parallel()

	j := &journal{}
	m := lifecycle.New(context.Background())
	start, stop := j.node("identity")
	if err := m.Register("identity", nil, start, stop); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	boom := errors.New("gpio busy")
	if err := m.Register("button", []string{"identity"}, func(context.Context) error { return boom }, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := m.StartAll()
	if !errors.Is(err, boom) {
		t.Fatalf("StartAll() error = %v, want %v", err, boom)
	}
	want := []string{"start identity", "stop identity"}
	if !slices.Equal(j.events, want) {
		t.Fatalf("events = %v, want %v", j.events, want)
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		node string
		deps []string
	}{
		{name: "пустое имя", node: ""},
		{name: "неизвестная зависимость", node: "loop", deps: []string{"session"}},
		{name: "зависимость от себя", node: "loop", deps: []string{"loop"}},
		{name: "повторная регистрация", node: "identity"},
	}

	m := lifecycle.New(nil) //nolint:staticcheck // nil заменяется на Background
	if err := m.Register("identity", nil, nil, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, tc := range cases {
		if err := m.Register(tc.node, tc.deps, nil, nil); err == nil {
			t.Fatalf("%s: Register(%q, %v) error = nil", tc.name, tc.node, tc.deps)
		}
	}
}
