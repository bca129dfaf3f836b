package cli

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubExec records which commands were dispatched.
type stubExec struct {
	loggedIn bool
	calls    []string
}

func (s *stubExec) isLoggedIn() bool                { return s.loggedIn }
func (s *stubExec) Login(ctx context.Context)       { s.calls = append(s.calls, "login") }
func (s *stubExec) Logout(ctx context.Context)      { s.calls = append(s.calls, "logout") }
func (s *stubExec) Status(ctx context.Context)      { s.calls = append(s.calls, "status") }
func (s *stubExec) NewOrder(ctx context.Context)    { s.calls = append(s.calls, "order") }
func (s *stubExec) Sync(ctx context.Context)        { s.calls = append(s.calls, "sync") }
func (s *stubExec) Errors(ctx context.Context)      { s.calls = append(s.calls, "errors") }
func (s *stubExec) GeneratePin(ctx context.Context) { s.calls = append(s.calls, "pin") }

func runWithInput(t *testing.T, stub *stubExec, input string) string {
	t.Helper()
	var out bytes.Buffer
	scanner := bufio.NewScanner(strings.NewReader(input))
	runREPL(context.Background(), stub, func() string { return "(test)" }, scanner, &out)
	return out.String()
}

func TestREPL_DispatchesCommands(t *testing.T) {
	stub := &stubExec{loggedIn: true}
	runWithInput(t, stub, "login\nstatus\norder\nsync\nerrors\npin\nlogout\nexit\n")
	assert.Equal(t, []string{"login", "status", "order", "sync", "errors", "pin", "logout"}, stub.calls)
}

func TestREPL_Aliases(t *testing.T) {
	stub := &stubExec{}
	runWithInput(t, stub, "st\no\nexit\n")
	assert.Equal(t, []string{"status", "order"}, stub.calls)
}

func TestREPL_UnknownCommand(t *testing.T) {
	stub := &stubExec{}
	out := runWithInput(t, stub, "frobnicate\nexit\n")
	assert.Contains(t, out, "Unknown command: frobnicate")
	assert.Empty(t, stub.calls)
}

func TestREPL_HelpDependsOnLogin(t *testing.T) {
	out := runWithInput(t, &stubExec{loggedIn: false}, "help\nexit\n")
	assert.Contains(t, out, "login")
	assert.NotContains(t, out, "logout")

	out = runWithInput(t, &stubExec{loggedIn: true}, "help\nexit\n")
	assert.Contains(t, out, "logout")
}

func TestREPL_ExitsOnEOF(t *testing.T) {
	stub := &stubExec{}
	runWithInput(t, stub, "status\n") // no exit, just EOF
	assert.Equal(t, []string{"status"}, stub.calls)
}

func TestREPL_SkipsBlankLines(t *testing.T) {
	stub := &stubExec{}
	out := runWithInput(t, stub, "\n\nexit\n")
	assert.Empty(t, stub.calls)
	assert.Contains(t, out, "Bye!")
}
