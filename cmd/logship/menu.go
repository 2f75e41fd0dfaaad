package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bft-labs/logship/internal/app"
)

// controller is the part of the supervisor driven by the menu.
type controller interface {
	Watch(dir string) error
	Unwatch(dir string) error
	Directories() []string
	Tailers() []app.TailerStatus
	ShutdownTimeout() int
	SetShutdownTimeout(seconds int) error
}

const menuText = `0. Listen new directory
1. Show listened directories
2. Show listened log files
3. Toggle debug logging
4. Set shutdown timeout
5. Stop listening a directory
99. Shut down the program and exit`

// menu is the interactive command loop of a running agent.
type menu struct {
	out         io.Writer
	lines       <-chan string
	ctl         controller
	toggleDebug func() bool
}

// newMenu starts reading lines from in. Reading stops at EOF.
func newMenu(in io.Reader, out io.Writer, ctl controller, toggleDebug func() bool) *menu {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return &menu{out: out, lines: lines, ctl: ctl, toggleDebug: toggleDebug}
}

// Run handles commands until the user asks to shut down, input ends or ctx
// is canceled. It reports whether shutdown was requested.
func (m *menu) Run(ctx context.Context) bool {
	for {
		fmt.Fprintln(m.out, menuText)
		fmt.Fprint(m.out, "-> ")

		choice, ok := m.next(ctx)
		if !ok {
			return false
		}
		if choice == "99" {
			return true
		}
		if !m.handle(ctx, choice) {
			return false
		}
	}
}

func (m *menu) next(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-m.lines:
		return line, ok
	}
}

// prompt asks for one argument. ok is false when input ended.
func (m *menu) prompt(ctx context.Context, label string) (string, bool) {
	fmt.Fprint(m.out, label)
	return m.next(ctx)
}

func (m *menu) handle(ctx context.Context, choice string) bool {
	switch choice {
	case "0":
		dir, ok := m.prompt(ctx, "Directory: ")
		if !ok {
			return false
		}
		if err := m.ctl.Watch(dir); err != nil {
			fmt.Fprintf(m.out, "Directory you entered is not valid: %v\n", err)
			return true
		}
		fmt.Fprintf(m.out, "Directory '%s' is now being listened.\n", dir)

	case "1":
		dirs := m.ctl.Directories()
		if len(dirs) == 0 {
			fmt.Fprintln(m.out, "No directories are being listened.")
			return true
		}
		fmt.Fprintln(m.out, renderTable([]string{"Directory"}, directoryRows(dirs), nil))

	case "2":
		tailers := m.ctl.Tailers()
		if len(tailers) == 0 {
			fmt.Fprintln(m.out, "No log files are being listened.")
			return true
		}
		rows := make([][]string, len(tailers))
		for i, t := range tailers {
			rows[i] = []string{t.Path, strconv.FormatInt(t.Offset, 10), t.State}
		}
		fmt.Fprintln(m.out, renderTable([]string{"File", "Lines read", "State"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft}))

	case "3":
		if m.toggleDebug() {
			fmt.Fprintln(m.out, "Debug logging enabled.")
		} else {
			fmt.Fprintln(m.out, "Debug logging disabled.")
		}

	case "4":
		fmt.Fprintf(m.out, "Current shutdown timeout is %d seconds.\n", m.ctl.ShutdownTimeout())
		raw, ok := m.prompt(ctx, "New timeout in seconds: ")
		if !ok {
			return false
		}
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintf(m.out, "Not a number: %q\n", raw)
			return true
		}
		if err := m.ctl.SetShutdownTimeout(seconds); err != nil {
			fmt.Fprintf(m.out, "Timeout rejected: %v\n", err)
			return true
		}
		fmt.Fprintf(m.out, "Shutdown timeout set to %d seconds.\n", seconds)

	case "5":
		dir, ok := m.prompt(ctx, "Directory: ")
		if !ok {
			return false
		}
		if err := m.ctl.Unwatch(dir); err != nil {
			fmt.Fprintf(m.out, "Could not stop listening: %v\n", err)
			return true
		}
		fmt.Fprintf(m.out, "Directory '%s' is no longer listened.\n", dir)

	case "":
	default:
		fmt.Fprintf(m.out, "Unknown option %q\n", choice)
	}
	return true
}
