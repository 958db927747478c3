package media

import (
	"context"
	"strings"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	calls [][]string
	run   func(name string, args []string) ([]byte, error)
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.run == nil {
		return nil, nil
	}
	return m.run(name, args)
}

func (m *mockRunner) called(name string) bool {
	for _, c := range m.calls {
		if c[0] == name {
			return true
		}
	}
	return false
}

func (m *mockRunner) commandLine(name string) string {
	for _, c := range m.calls {
		if c[0] == name {
			return strings.Join(c, " ")
		}
	}
	return ""
}
