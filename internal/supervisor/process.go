package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"harvest/internal/worker"
)

// Process is a running worker as the supervisor sees it.
type Process interface {
	PID() int
	Exited() bool
	// Terminate asks the process to stop and kills it after timeout.
	Terminate(timeout time.Duration) error
}

type Spawner interface {
	Spawn(ctx context.Context, spec worker.Spec) (Process, error)
}

// ExecSpawner starts the worker binary and writes the spec to its stdin.
type ExecSpawner struct {
	Binary string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

func (s ExecSpawner) Spawn(_ context.Context, spec worker.Spec) (Process, error) {
	var stdin bytes.Buffer
	if err := worker.EncodeSpec(&stdin, spec); err != nil {
		return nil, err
	}
	cmd := exec.Command(s.Binary, s.Args...)
	cmd.Stdin = &stdin
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.WorkerID, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *execProcess) Terminate(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !p.Exited() {
		return p.kill()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
		return p.kill()
	}
}

func (p *execProcess) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return fmt.Errorf("kill pid %d: %w", p.PID(), err)
	}
	<-p.done
	return nil
}
