package simnet

import (
	"testing"
	"time"
)

type testLogger struct {
	t *testing.T
}

func newTestLogger(t *testing.T) *testLogger {
	return &testLogger{t: t}
}

func (l *testLogger) Debug(level int, format string, args ...interface{}) {
}

func (l *testLogger) Info(format string, args ...interface{}) {
}

func (l *testLogger) Error(format string, args ...interface{}) {
	l.t.Logf("error: "+format, args...)
}

func newTestRouter(t *testing.T, mode Mode) *Router {
	t.Helper()

	router, err := NewRouter(RouterCfg{
		Mode:   mode,
		Logger: newTestLogger(t),
		Seed:   1,
	})
	if err != nil {
		t.Fatalf("cannot create router: %v", err)
	}

	return router
}

func registerProcess(t *testing.T, router *Router, p Process) ProcessId {
	t.Helper()

	id, err := router.Register(p, AutoIncrement)
	if err != nil {
		t.Fatalf("cannot register process: %v", err)
	}

	return id
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached after %v", timeout)
		}

		time.Sleep(time.Millisecond)
	}
}

func equalStrings(s1, s2 []string) bool {
	if len(s1) != len(s2) {
		return false
	}

	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}

	return true
}
