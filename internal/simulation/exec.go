package simulation

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/permafrost.glue/internal/monitoring"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
)

// DefaultOutputFile is where the thermal model writes its monthly table.
const DefaultOutputFile = "out/result.txt"

// DefaultGrace is the Executor grace period that covers the kill and pipe
// drain of an ExecBackend run.
const DefaultGrace = 2 * defaultWaitDelay

const (
	defaultWaitDelay = 5 * time.Second
	stderrTailBytes  = 2048
)

// ExecBackend runs an external model executable inside the run directory.
type ExecBackend struct {
	Command    string // relative paths resolve against the run directory
	Args       []string
	OutputFile string
	WaitDelay  time.Duration // grace period for pipes after the process is killed
}

// Run starts the command and waits for it. When ctx ends the process is
// killed and Run returns once it has exited.
func (b *ExecBackend) Run(ctx context.Context, rc *sandbox.RunContext) (Output, error) {
	if b.Command == "" {
		return Output{}, fmt.Errorf("exec backend: no command configured")
	}
	cmd := exec.CommandContext(ctx, b.Command, b.Args...)
	cmd.Dir = rc.Dir
	cmd.Cancel = func() error {
		monitoring.Logf("simulation: killing %s for sample %d: %v", b.Command, rc.Index, context.Cause(ctx))
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = b.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("%s: %w", b.Command, ctxErr)
		}
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return Output{}, fmt.Errorf("%s: %w: %s", b.Command, err, tail)
		}
		return Output{}, fmt.Errorf("%s: %w", b.Command, err)
	}

	outFile := b.OutputFile
	if outFile == "" {
		outFile = DefaultOutputFile
	}
	return Output{Index: rc.Index, Path: rc.Path(outFile)}, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
