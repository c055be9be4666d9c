package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

// Requirement is an external binary a command provider invokes. ProbeArgs,
// when set, are passed to the binary by a probing check; it must exit zero.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	ProbeArgs   []string
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	// Path is the resolved executable.
	Path string
	// Version is the first output line of a successful probe.
	Version string
	Detail  string
}

// CheckBinaries resolves each requirement without running anything.
func CheckBinaries(requirements []Requirement) []Status {
	return Check(context.Background(), requirements, false)
}

// Check resolves each requirement on PATH. With probe set, requirements that
// declare ProbeArgs are also executed and must exit zero within ten seconds.
func Check(ctx context.Context, requirements []Requirement, probe bool) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(ctx, req, probe))
	}
	return results
}

func check(ctx context.Context, req Requirement, probe bool) Status {
	status := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Path = path
	if probe && len(req.ProbeArgs) > 0 {
		version, err := runProbe(ctx, path, req.ProbeArgs)
		if err != nil {
			status.Detail = fmt.Sprintf("probe %s %s failed: %v", status.Command, strings.Join(req.ProbeArgs, " "), err)
			return status
		}
		status.Version = version
	}
	status.Available = true
	return status
}

func runProbe(ctx context.Context, path string, args []string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, path, args...).CombinedOutput()
	if err != nil {
		if probeCtx.Err() != nil {
			return "", probeCtx.Err()
		}
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", nil
}
