package version

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/bgricker/stagerun/internal/runner"
)

// Info captures a toolchain installed on the system.
type Info struct {
	Name    string
	Path    string
	Version string
	// Banner is the first line of the --version output.
	Banner string
}

// MajorMinor returns the major.minor prefix of Version, or "".
func (i Info) MajorMinor() string {
	return semverPrefix(i.Version)
}

// ProcessRunner runs one external process.
type ProcessRunner interface {
	Run(ctx context.Context, spec runner.Spec) (runner.Result, error)
}

const probeTimeout = 5 * time.Second

var versionRegex = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// DetectToolchain probes cc by calling `cc --version`.
func DetectToolchain(ctx context.Context, r ProcessRunner, cc string) (Info, error) {
	res, err := r.Run(ctx, runner.Spec{
		Stage:      "probe",
		Executable: cc,
		Args:       []string{"--version"},
		Timeout:    probeTimeout,
	})
	if err != nil {
		return Info{Name: cc}, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	if res.ExitCode != 0 {
		return Info{Name: cc}, fmt.Errorf("%s --version exited with status %d: %s", cc, res.ExitCode, firstLine(out))
	}

	info := Info{Name: cc, Banner: firstLine(out)}
	if path, err := exec.LookPath(cc); err == nil {
		info.Path = path
	}
	match := versionRegex.FindStringSubmatch(info.Banner)
	if len(match) < 2 {
		return info, fmt.Errorf("unable to parse %s version from %q", cc, info.Banner)
	}
	info.Version = match[1]
	return info, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// CompareMajorMinor compares major.minor portions of two semver-like versions.
// An empty side matches anything.
func CompareMajorMinor(desired, actual string) bool {
	d := semverPrefix(desired)
	a := semverPrefix(actual)
	if d == "" || a == "" {
		return true
	}
	return strings.EqualFold(d, a)
}

func semverPrefix(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// Missing reports whether executing the command returns a not-found error.
func Missing(cmdErr error) bool {
	return runner.Missing(cmdErr) || errors.Is(cmdErr, exec.ErrNotFound)
}
