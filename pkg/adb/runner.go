/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/shirou/gopsutil/v3/process"
)

const maxCapturedOutput = 64 * 1024

// CommandError is returned when the bridge tool exits unsuccessfully.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Output)
	if msg == "" {
		return fmt.Sprintf("adb %s: %v", strings.Join(e.Args, " "), e.Err)
	}

	return fmt.Sprintf("adb %s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes the adb binary.
type Runner struct {
	path   string
	logger logger.Logger
}

func NewRunner(path string, log logger.Logger) *Runner {
	if path == "" {
		path = "adb"
	}

	return &Runner{path: path, logger: log}
}

// RunSilent executes adb and returns stdout. Stderr is carried in the error.
func (r *Runner) RunSilent(ctx context.Context, args ...string) ([]byte, error) {
	r.logger.Debug().Strs("args", args).Msg("adb")

	cmd := exec.CommandContext(ctx, r.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out := stderr.String()
		if out == "" {
			out = stdout.String()
		}

		return stdout.Bytes(), &CommandError{Args: args, Output: out, Err: err}
	}

	return stdout.Bytes(), nil
}

// Start spawns a long-lived adb child. The process is not bound to ctx;
// callers stop it with Process.Stop.
func (r *Runner) Start(_ context.Context, args ...string) (*Process, error) {
	r.logger.Debug().Strs("args", args).Msg("adb spawn")

	cmd := exec.Command(r.path, args...)

	p := &Process{
		cmd:    cmd,
		done:   make(chan struct{}),
		logger: r.logger,
	}

	cmd.Stdout = &p.output
	cmd.Stderr = &p.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adb %s: %w", strings.Join(args, " "), err)
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Process is a running adb child with captured combined output.
type Process struct {
	cmd      *exec.Cmd
	output   cappedBuffer
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
	logger   logger.Logger
}

// Pid of the local adb process.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the child has already terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Output returns what the child has written so far.
func (p *Process) Output() string {
	return p.output.String()
}

// Stop terminates the child, waits up to grace, then kills it. Repeated
// calls return the first result.
func (p *Process) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(grace)
	})

	return p.stopErr
}

func (p *Process) stop(grace time.Duration) error {
	if p.Exited() {
		return nil
	}

	proc, err := process.NewProcess(int32(p.Pid()))
	if err != nil {
		// Already reaped between the check and the lookup.
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}

		return fmt.Errorf("lookup pid %d: %w", p.Pid(), err)
	}

	if err := proc.Terminate(); err != nil {
		p.logger.Debug().Err(err).Int("pid", p.Pid()).Msg("Terminate failed, escalating to kill")
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.logger.Warn().Int("pid", p.Pid()).Dur("grace", grace).Msg("Process ignored terminate, killing")

	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}

	select {
	case <-p.done:
	case <-time.After(grace):
		return fmt.Errorf("pid %d still running after kill", p.Pid())
	}

	return nil
}

// cappedBuffer keeps the first maxCapturedOutput bytes written to it.
type cappedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := maxCapturedOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}

	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
