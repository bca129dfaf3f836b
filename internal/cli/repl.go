package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the minimal command surface the REPL needs. The real App
// satisfies it; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context)
	Logout(ctx context.Context)
	Status(ctx context.Context)
	NewOrder(ctx context.Context)
	Sync(ctx context.Context)
	Errors(ctx context.Context)
	GeneratePin(ctx context.Context)
}

// runREPL reads a line, parses the first token as the command and dispatches
// to methods on a. Unknown commands are reported back to the user. The loop
// exits on scanner EOF, on "exit"/"quit" or when ctx is cancelled.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(w, "till %s> ", statusFn())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, "Available commands: status, order, sync, errors, pin, logout, exit")
			} else {
				fmt.Fprintln(w, "Available commands: status, login, exit")
			}

		case "login":
			a.Login(ctx)

		case "logout":
			a.Logout(ctx)

		case "status", "st":
			a.Status(ctx)

		case "order", "o":
			a.NewOrder(ctx)

		case "sync":
			a.Sync(ctx)

		case "errors":
			a.Errors(ctx)

		case "pin":
			a.GeneratePin(ctx)

		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return

		default:
			fmt.Fprintln(w, "Unknown command:", parts[0])
		}
	}
}
