package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

// Runner executes name with args and returns its stdout. Errors must wrap the
// underlying *exec.ExitError so exit codes can be classified.
type Runner func(ctx context.Context, name string, args []string) ([]byte, error)

// Config describes one command-backed provider.
type Config struct {
	Name    string
	Command string
	// Args and Output are text/template strings rendered with Data.
	Args               []string
	Output             string
	PermanentExitCodes []int
	Runner             Runner
}

// Data is the template context for Args and Output.
type Data struct {
	Brief   capability.Brief
	Stage   string
	Input   string
	Output  string
	WorkDir string
	Scene   int
}

// Provider runs an external command for every capability except script.
type Provider struct {
	name      string
	command   string
	args      []*template.Template
	output    *template.Template
	permanent map[int]struct{}
	run       Runner
}

// New parses the argument templates. A template that does not parse is a
// ConfigurationError.
func New(cfg Config) (*Provider, error) {
	name := strings.TrimSpace(cfg.Name)
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, services.Errorf(services.KindConfiguration, "provider %q: command must be set", name)
	}
	p := &Provider{
		name:      name,
		command:   strings.TrimSpace(cfg.Command),
		permanent: make(map[int]struct{}, len(cfg.PermanentExitCodes)),
		run:       cfg.Runner,
	}
	if p.run == nil {
		p.run = defaultRunner
	}
	for _, code := range cfg.PermanentExitCodes {
		p.permanent[code] = struct{}{}
	}
	for i, arg := range cfg.Args {
		tmpl, err := template.New(fmt.Sprintf("%s-arg-%d", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, services.Wrap(services.KindConfiguration, "", "parse args", fmt.Sprintf("provider %q: args[%d]", name, i), err)
		}
		p.args = append(p.args, tmpl)
	}
	if strings.TrimSpace(cfg.Output) != "" {
		tmpl, err := template.New(name + "-output").Option("missingkey=error").Parse(cfg.Output)
		if err != nil {
			return nil, services.Wrap(services.KindConfiguration, "", "parse output", fmt.Sprintf("provider %q: output", name), err)
		}
		p.output = tmpl
	}
	return p, nil
}

// Name implements capability.Provider.
func (p *Provider) Name() string { return p.name }

// Command returns the executable this provider runs.
func (p *Provider) Command() string { return p.command }

// invocation is one rendered call.
type invocation struct {
	data   Data
	argv   []string
	stdout []byte
}

// invoke renders the templates and runs the command in workDir.
// defaultOutput is a file name inside workDir, used when the provider declares
// no output template.
func (p *Provider) invoke(ctx context.Context, stage string, brief capability.Brief, workDir, input string, scene int, defaultOutput string) (invocation, error) {
	op := "run " + p.command
	data := Data{Brief: brief, Stage: stage, Input: input, WorkDir: workDir, Scene: scene}
	data.Output = filepath.Join(workDir, defaultOutput)
	if p.output != nil {
		rendered, err := render(p.output, data)
		if err != nil {
			return invocation{}, p.fail(services.KindInvalidInput, stage, op, "render output template", err)
		}
		data.Output = rendered
	}
	argv := make([]string, 0, len(p.args))
	for _, tmpl := range p.args {
		rendered, err := render(tmpl, data)
		if err != nil {
			return invocation{}, p.fail(services.KindInvalidInput, stage, op, "render args", err)
		}
		argv = append(argv, rendered)
	}

	if dir := filepath.Dir(data.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return invocation{}, p.fail(services.KindInternal, stage, op, "prepare output dir", err)
		}
	}
	stdout, err := p.run(ctx, p.command, argv)
	if err != nil {
		return invocation{}, p.classify(ctx, stage, op, err)
	}
	return invocation{data: data, argv: argv, stdout: stdout}, nil
}

func (p *Provider) classify(ctx context.Context, stage, op string, err error) error {
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return p.fail(services.KindCancelled, stage, op, "command aborted", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return p.fail(services.KindProviderUnavailable, stage, op, "command timed out", err)
	case errors.Is(err, exec.ErrNotFound):
		return p.fail(services.KindInvalidInput, stage, op, "command not found on PATH", err)
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		if _, ok := p.permanent[code]; ok {
			return p.fail(services.KindInvalidInput, stage, op, fmt.Sprintf("exit code %d", code), err)
		}
		return p.fail(services.KindProviderUnavailable, stage, op, fmt.Sprintf("exit code %d", code), err)
	default:
		return p.fail(services.KindProviderUnavailable, stage, op, "command failed", err)
	}
}

func (p *Provider) fail(kind services.Kind, stage, op, msg string, err error) error {
	return &services.Error{Kind: kind, Stage: stage, Provider: p.name, Operation: op, Message: msg, Err: err}
}

// requireOutput stats the rendered output path.
func (p *Provider) requireOutput(stage string, inv invocation) (os.FileInfo, error) {
	info, err := os.Stat(inv.data.Output)
	if err != nil {
		return nil, p.fail(services.KindProviderUnavailable, stage, "run "+p.command,
			fmt.Sprintf("command produced no output at %s", inv.data.Output), err)
	}
	return info, nil
}

func render(tmpl *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func ensureWorkDir(brief capability.Brief) (string, error) {
	dir := strings.TrimSpace(brief.WorkDir)
	if dir == "" {
		return os.MkdirTemp("", "ytauto-"+brief.LineID+"-")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeInput(dir, name string, content []byte) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func defaultRunner(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
