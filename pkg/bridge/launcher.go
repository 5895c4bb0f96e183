package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/libbyhq/libby/pkg/engine"
)

// Conn is a running engine: requests are written, responses read.
type Conn interface {
	io.Reader
	io.Writer
	// Close stops the engine and releases its resources.
	Close() error
}

// Launcher starts an engine.
type Launcher interface {
	// NeedsBinary reports whether Launch uses the extracted binary.
	NeedsBinary() bool
	// Launch starts the engine. binary is empty when NeedsBinary is false.
	// cacheDir is where the engine may keep POMs.
	Launch(ctx context.Context, binary, cacheDir string) (Conn, error)
}

// ProcessLauncher runs the engine binary as a child process.
type ProcessLauncher struct {
	// Args are placed before "serve" on the command line.
	Args []string
	// Env is appended to the host environment.
	Env    []string
	Logger *log.Logger
	// StopTimeout bounds how long Close waits before killing (default 5s).
	StopTimeout time.Duration
}

func (p *ProcessLauncher) NeedsBinary() bool { return true }

// Launch starts binary. The process outlives ctx; stop it with Close.
func (p *ProcessLauncher) Launch(_ context.Context, binary, cacheDir string) (Conn, error) {
	args := append(append([]string(nil), p.Args...), "serve")
	if cacheDir != "" {
		args = append(args, "--cache-dir", cacheDir)
	}
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	if logger.GetLevel() <= log.DebugLevel {
		args = append(args, "--verbose")
	}

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), p.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// Plain pipes instead of StdoutPipe: Wait must not close the read side
	// while responses are still buffered.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	c := &procConn{cmd: cmd, stdin: stdin, stdout: outR, timeout: p.StopTimeout, exited: make(chan struct{})}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	go func() {
		defer errR.Close()
		sc := bufio.NewScanner(errR)
		for sc.Scan() {
			logger.Debug(sc.Text(), "pid", cmd.Process.Pid)
		}
	}()
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	return c, nil
}

type procConn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	timeout time.Duration

	exited  chan struct{}
	waitErr error
	once    sync.Once
}

func (c *procConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *procConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close closes stdin, which makes the engine drain and exit, and kills it
// if it does not exit in time.
func (c *procConn) Close() error {
	var err error
	c.once.Do(func() {
		c.stdin.Close()
		select {
		case <-c.exited:
		case <-time.After(c.timeout):
			c.cmd.Process.Kill()
			<-c.exited
		}
		c.stdout.Close()
		var exit *exec.ExitError
		if c.waitErr != nil && !errors.As(c.waitErr, &exit) {
			err = c.waitErr
		}
	})
	return err
}

// InProcess runs an engine inside the host process. It is meant for
// platforms without an engine build and for tests.
type InProcess struct {
	Engine *engine.Engine
}

func (InProcess) NeedsBinary() bool { return false }

func (l InProcess) Launch(_ context.Context, _, _ string) (Conn, error) {
	if l.Engine == nil {
		return nil, errors.New("in-process launcher has no engine")
	}
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := l.Engine.Serve(ctx, reqR, respW)
		respW.CloseWithError(err)
	}()
	return &pipeConn{r: respR, w: reqW, cancel: cancel, done: done, reqR: reqR}, nil
}

type pipeConn struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	reqR   *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	c.w.Close()
	c.cancel()
	// Unblock any response still being written.
	c.r.Close()
	<-c.done
	c.reqR.Close()
	return nil
}
