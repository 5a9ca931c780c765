package main

import (
	"context"
	"errors"
	"testing"
)

func stubRun(t *testing.T, exec func(context.Context, []string) error, mapCode func(error) int) {
	t.Helper()
	origExec, origMap := executeCmd, mapExitCode
	t.Cleanup(func() {
		executeCmd = origExec
		mapExitCode = origMap
	})
	executeCmd = exec
	if mapCode != nil {
		mapExitCode = mapCode
	}
}

func TestRun_Success(t *testing.T) {
	var gotArgs []string
	stubRun(t, func(_ context.Context, args []string) error {
		gotArgs = append([]string(nil), args...)
		return nil
	}, func(error) int {
		t.Fatal("mapExitCode should not be called on success")
		return 99
	})

	if code := run([]string{"status", "--output", "json"}); code != 0 {
		t.Fatalf("run() code = %d, want 0", code)
	}
	want := []string{"status", "--output", "json"}
	if len(gotArgs) != len(want) {
		t.Fatalf("args = %v, want %v", gotArgs, want)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, gotArgs[i], want[i])
		}
	}
}

func TestRun_ErrorUsesMappedExitCode(t *testing.T) {
	executeErr := errors.New("boom")
	called := false
	stubRun(t, func(context.Context, []string) error { return executeErr }, func(err error) int {
		called = true
		if !errors.Is(err, executeErr) {
			t.Fatalf("mapExitCode got err %v, want %v", err, executeErr)
		}
		return 9
	})

	if code := run([]string{"send", "hi"}); code != 9 {
		t.Fatalf("run() code = %d, want 9", code)
	}
	if !called {
		t.Fatal("expected mapExitCode to be called")
	}
}

func TestRun_RealExitCodes(t *testing.T) {
	stubRun(t, func(context.Context, []string) error {
		return errors.New(`unknown command "nope" for "supportsync"`)
	}, nil)

	if code := run([]string{"nope"}); code != 2 {
		t.Fatalf("run() code = %d, want 2", code)
	}
}

func TestMain_UsesTerminate(t *testing.T) {
	origTerminate := terminate
	t.Cleanup(func() { terminate = origTerminate })
	stubRun(t, func(context.Context, []string) error { return nil }, nil)

	got := -1
	terminate = func(code int) { got = code }
	main()
	if got != 0 {
		t.Fatalf("terminate code = %d, want 0", got)
	}
}
