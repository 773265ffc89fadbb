// Package binary locates the muxing binary and validates it by probing its
// version output.
package binary

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
)

// ToolName is the program name expected at the start of the version output
const ToolName = "ffmpeg"

// DefaultProbeTimeout bounds a version probe
const DefaultProbeTimeout = 4 * time.Second

var (
	errRejectedLine = errors.New("unexpected output")
	errRejectedExit = errors.New("rejected exit status")
)

// Hooks receive a probed process's output
type Hooks interface {
	// OnStdout is called per stdout line; returning false aborts the probe
	OnStdout(index int, line string) bool
	// OnExit decides the probe result from the exit code
	OnExit(code int) bool
}

// Probe runs a short-lived process and lets Hooks judge its output
type Probe struct {
	Args    []string
	Timeout time.Duration
	Hooks   Hooks
}

// Run executes the probe. A nil error means the hooks accepted the process.
// Timeouts count as failures.
func (p *Probe) Run(ctx context.Context) error {
	if len(p.Args) == 0 {
		return muxerrors.ProbeError("probe", muxerrors.ErrInvalidInput)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Args[0], p.Args[1:]...)
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return muxerrors.ProbeError("probe", err)
	}

	if err := cmd.Start(); err != nil {
		return muxerrors.ProbeError("probe", err)
	}

	accepted := true
	scanner := bufio.NewScanner(stdout)
	for index := 0; scanner.Scan(); index++ {
		if !p.Hooks.OnStdout(index, scanner.Text()) {
			accepted = false
			cancel()
			break
		}
	}
	if accepted {
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()

	if !accepted {
		return muxerrors.ProbeError("probe", errRejectedLine)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return muxerrors.ProbeError("probe", muxerrors.ErrTimeout).WithDetail("timeout", timeout.String())
	}

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	if !p.Hooks.OnExit(code) {
		err := fmt.Errorf("%w: %d", errRejectedExit, code)
		if waitErr != nil {
			err = fmt.Errorf("%w (%v)", err, waitErr)
		}
		return muxerrors.ProbeError("probe", err)
	}

	return nil
}

// VersionProbe validates a binary by running "<path> -version"
type VersionProbe struct {
	Probe

	pattern *regexp.Regexp
	version string
	output  []string
}

// NewVersionProbe creates a version probe for the binary at path
func NewVersionProbe(path string, timeout time.Duration) *VersionProbe {
	vp := &VersionProbe{
		pattern: regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(ToolName) + ` version (?P<version>\S+)`),
	}
	vp.Probe = Probe{
		Args:    []string{path, "-version"},
		Timeout: timeout,
		Hooks:   vp,
	}
	return vp
}

// OnStdout requires the first line to carry the tool version
func (vp *VersionProbe) OnStdout(index int, line string) bool {
	if index == 0 {
		match := vp.pattern.FindStringSubmatch(line)
		if match == nil {
			return false
		}
		vp.version = match[vp.pattern.SubexpIndex("version")]
	}
	vp.output = append(vp.output, line)
	return true
}

// OnExit accepts a clean exit once a version was captured
func (vp *VersionProbe) OnExit(code int) bool {
	return code == 0 && vp.version != ""
}

// Version returns the captured version string
func (vp *VersionProbe) Version() string {
	return vp.version
}

// Output returns every accepted stdout line
func (vp *VersionProbe) Output() []string {
	return vp.output
}
