package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/domain"
)

type fakeController struct {
	dirs     []string
	tailers  []app.TailerStatus
	timeout  int
	watchErr error
}

func (f *fakeController) Watch(dir string) error {
	if f.watchErr != nil {
		return f.watchErr
	}
	f.dirs = append(f.dirs, dir)
	return nil
}

func (f *fakeController) Unwatch(dir string) error {
	for i, d := range f.dirs {
		if d == dir {
			f.dirs = append(f.dirs[:i], f.dirs[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotWatched
}

func (f *fakeController) Directories() []string       { return f.dirs }
func (f *fakeController) Tailers() []app.TailerStatus { return f.tailers }
func (f *fakeController) ShutdownTimeout() int        { return f.timeout }

func (f *fakeController) SetShutdownTimeout(seconds int) error {
	if seconds <= 5 {
		return domain.NewConfigError("shutdown_timeout", "must be more than 5 seconds, got %d", seconds)
	}
	f.timeout = seconds
	return nil
}

func runMenu(t *testing.T, input string, ctl controller) (string, bool) {
	t.Helper()
	var out bytes.Buffer
	debug := false
	m := newMenu(strings.NewReader(input), &out, ctl, func() bool {
		debug = !debug
		return debug
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	quit := m.Run(ctx)
	return out.String(), quit
}

func TestMenu_WatchAndList(t *testing.T) {
	ctl := &fakeController{timeout: 10}
	out, quit := runMenu(t, "0\n/var/log/dns\n1\n99\n", ctl)

	if !quit {
		t.Fatal("expected shutdown request")
	}
	if len(ctl.dirs) != 1 || ctl.dirs[0] != "/var/log/dns" {
		t.Fatalf("dirs = %v", ctl.dirs)
	}
	if !strings.Contains(out, "Directory '/var/log/dns' is now being listened.") {
		t.Errorf("missing confirmation in output:\n%s", out)
	}
	if !strings.Contains(out, "│ /var/log/dns") {
		t.Errorf("missing table row in output:\n%s", out)
	}
}

func TestMenu_WatchError(t *testing.T) {
	ctl := &fakeController{watchErr: errors.New("not a directory")}
	out, _ := runMenu(t, "0\n/nope\n99\n", ctl)
	if !strings.Contains(out, "Directory you entered is not valid: not a directory") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMenu_Tailers(t *testing.T) {
	ctl := &fakeController{tailers: []app.TailerStatus{
		{Path: "/var/log/dns/a.log", Offset: 42, State: "running"},
	}}
	out, _ := runMenu(t, "2\n99\n", ctl)
	for _, want := range []string{"LINES READ", "/var/log/dns/a.log", "42", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMenu_Empty(t *testing.T) {
	out, _ := runMenu(t, "1\n2\n99\n", &fakeController{})
	if !strings.Contains(out, "No directories are being listened.") {
		t.Errorf("missing empty directories message:\n%s", out)
	}
	if !strings.Contains(out, "No log files are being listened.") {
		t.Errorf("missing empty files message:\n%s", out)
	}
}

func TestMenu_ShutdownTimeout(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
		msg   string
	}{
		{"valid", "4\n30\n99\n", 30, "Shutdown timeout set to 30 seconds."},
		{"too small", "4\n5\n99\n", 10, "Timeout rejected"},
		{"not a number", "4\nsoon\n99\n", 10, `Not a number: "soon"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{timeout: 10}
			out, _ := runMenu(t, tt.input, ctl)
			if ctl.timeout != tt.want {
				t.Errorf("timeout = %d, want %d", ctl.timeout, tt.want)
			}
			if !strings.Contains(out, "Current shutdown timeout is 10 seconds.") {
				t.Errorf("current timeout not shown:\n%s", out)
			}
			if !strings.Contains(out, tt.msg) {
				t.Errorf("output missing %q:\n%s", tt.msg, out)
			}
		})
	}
}

func TestMenu_Unwatch(t *testing.T) {
	ctl := &fakeController{dirs: []string{"/a"}}
	out, _ := runMenu(t, "5\n/a\n5\n/b\n99\n", ctl)
	if len(ctl.dirs) != 0 {
		t.Errorf("dirs = %v, want empty", ctl.dirs)
	}
	if !strings.Contains(out, "Directory '/a' is no longer listened.") {
		t.Errorf("missing confirmation:\n%s", out)
	}
	if !strings.Contains(out, "Could not stop listening") {
		t.Errorf("missing error for /b:\n%s", out)
	}
}

func TestMenu_ToggleDebug(t *testing.T) {
	out, _ := runMenu(t, "3\n3\n99\n", &fakeController{})
	on := strings.Index(out, "Debug logging enabled.")
	off := strings.Index(out, "Debug logging disabled.")
	if on < 0 || off < 0 || off < on {
		t.Errorf("expected enable then disable:\n%s", out)
	}
}

func TestMenu_UnknownOption(t *testing.T) {
	out, _ := runMenu(t, "7\n99\n", &fakeController{})
	if !strings.Contains(out, `Unknown option "7"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMenu_EOFDoesNotRequestShutdown(t *testing.T) {
	_, quit := runMenu(t, "1\n", &fakeController{})
	if quit {
		t.Error("end of input must not request shutdown")
	}
}

func TestMenu_ContextCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	m := newMenu(r, &bytes.Buffer{}, &fakeController{}, func() bool { return false })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if m.Run(ctx) {
		t.Error("canceled context must not request shutdown")
	}
}
