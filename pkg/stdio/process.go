package stdio

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

const (
	// DefaultGracePeriod is how long Close waits after SIGTERM before it
	// force-kills the subprocess.
	DefaultGracePeriod = 5 * time.Second

	// exitWait is how long a failed read waits for the process to be reaped
	// before it decides between EOF and an unexpected exit.
	exitWait = 250 * time.Millisecond

	// drainGrace is how long stdout stays readable after the process exits,
	// for descendants that inherited the pipe.
	drainGrace = 500 * time.Millisecond
)

// Command describes the subprocess a ProcessTransport launches.
type Command struct {
	// Path is the executable, resolved through PATH when it has no separator.
	Path string
	// Args are passed to the executable in order.
	Args []string
	// Env overrides or extends the current process environment.
	Env map[string]string
	// Dir is the working directory; empty means the current one.
	Dir string
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
	// Logger receives lifecycle events and the server's stderr at debug level.
	Logger *slog.Logger
}

// ProcessTransport owns one MCP server subprocess and its stdin/stdout pipes.
type ProcessTransport struct {
	cmd    *exec.Cmd
	lines  *StreamTransport
	stdout *os.File
	stderr *os.File
	logger *slog.Logger
	grace  time.Duration

	exited  chan struct{}
	waitErr error

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*ProcessTransport)(nil)

// Open spawns the subprocess described by c. Failures to create pipes or to
// start the executable are marked mcperr.ErrSpawn.
func Open(c Command) (*ProcessTransport, error) {
	if c.Path == "" {
		return nil, errors.Mark(errors.New("command is required"), mcperr.ErrSpawn)
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := c.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.Dir = c.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create stdin pipe"), mcperr.ErrSpawn)
	}
	// stdout and stderr use plain os pipes so cmd.Wait never closes the read
	// ends underneath the reader goroutine.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, errors.Mark(errors.Wrap(err, "create stdout pipe"), mcperr.ErrSpawn)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Mark(errors.Wrap(err, "create stderr pipe"), mcperr.ErrSpawn)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logger.Info("starting MCP subprocess", "command", c.Path, "args", c.Args)
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, errors.Mark(errors.Wrapf(err, "start subprocess %s", c.Path), mcperr.ErrSpawn)
	}
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	t := &ProcessTransport{
		cmd:    cmd,
		lines:  NewStreamTransport(stdoutR, stdin),
		stdout: stdoutR,
		stderr: stderrR,
		logger: logger,
		grace:  grace,
		exited: make(chan struct{}),
	}
	go t.drainStderr()
	go t.wait()

	logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return t, nil
}

// PID returns the subprocess id.
func (t *ProcessTransport) PID() int {
	return t.cmd.Process.Pid
}

// Exited is closed once the subprocess has been reaped.
func (t *ProcessTransport) Exited() <-chan struct{} {
	return t.exited
}

// SendLine implements Transport.
func (t *ProcessTransport) SendLine(line []byte) error {
	select {
	case <-t.exited:
		return mcperr.Transport(t.exitError(), mcperr.ErrProcessExited)
	default:
	}
	return t.lines.SendLine(line)
}

// ReceiveLine implements Transport. When the read fails it reports
// mcperr.ErrProcessExited if the subprocess terminated, or mcperr.ErrEOF if
// only its output was closed.
func (t *ProcessTransport) ReceiveLine() ([]byte, error) {
	line, err := t.lines.ReceiveLine()
	if err == nil {
		return line, nil
	}
	if t.closing.Load() {
		return nil, mcperr.Transport(errTransportClosed, nil)
	}
	timer := time.NewTimer(exitWait)
	defer timer.Stop()
	select {
	case <-t.exited:
		return nil, mcperr.Transport(t.exitError(), mcperr.ErrProcessExited)
	case <-timer.C:
		return nil, err
	}
}

// Close sends SIGTERM, waits up to the grace period, then kills the process.
// Both pipes are closed. Close is idempotent.
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		t.closeErr = t.terminate()
		t.lines.Close()
		t.stderr.Close()
	})
	return t.closeErr
}

func (t *ProcessTransport) terminate() error {
	select {
	case <-t.exited:
		return nil
	default:
	}
	pid := t.cmd.Process.Pid
	t.logger.Info("stopping MCP subprocess", "pid", pid)

	// Closing stdin is the polite request; SIGTERM the firm one.
	t.lines.writer.Close()
	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Windows cannot deliver SIGTERM.
		_ = t.cmd.Process.Kill()
	}

	timer := time.NewTimer(t.grace)
	defer timer.Stop()
	select {
	case <-t.exited:
		return nil
	case <-timer.C:
	}
	t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", pid)
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "kill subprocess %d", pid)
	}
	<-t.exited
	return nil
}

func (t *ProcessTransport) wait() {
	err := t.cmd.Wait()
	t.waitErr = err
	close(t.exited)

	if t.closing.Load() {
		t.logger.Debug("MCP subprocess exited", "pid", t.cmd.Process.Pid)
		return
	}
	if err != nil {
		t.logger.Error("MCP subprocess exited unexpectedly", "pid", t.cmd.Process.Pid, "error", err)
	} else {
		t.logger.Warn("MCP subprocess exited", "pid", t.cmd.Process.Pid)
	}
	// Unblock the reader if a descendant still holds stdout open.
	time.AfterFunc(drainGrace, func() { t.stdout.Close() })
}

func (t *ProcessTransport) exitError() error {
	if t.waitErr != nil {
		return errors.Wrapf(t.waitErr, "server process %d exited", t.cmd.Process.Pid)
	}
	return errors.Newf("server process %d exited with status 0", t.cmd.Process.Pid)
}

func (t *ProcessTransport) drainStderr() {
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
		t.logger.Debug("MCP subprocess stderr scan error", "error", err)
	}
}

// mergeEnv appends overrides to base in key order. exec.Cmd keeps the last
// value for duplicate keys, so overrides win.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}
