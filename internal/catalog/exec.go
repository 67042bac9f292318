package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecCatalog runs commands as subcommands of the host application binary,
// e.g. ["python", "manage.py"] or ["./app"]. The runnable set itself is
// supplied by configuration; the agent never guesses at host internals.
type ExecCatalog struct {
	hostCommand []string
	workDir     string
	descriptors []Descriptor
	byName      map[string]Descriptor
}

// NewExecCatalog builds a catalog over a host command prefix and the
// configured descriptor set.
func NewExecCatalog(hostCommand []string, workDir string, descriptors []Descriptor) (*ExecCatalog, error) {
	if len(hostCommand) == 0 || strings.TrimSpace(hostCommand[0]) == "" {
		return nil, errors.New("catalog: host command required")
	}
	byName := make(map[string]Descriptor, len(descriptors))
	kept := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		d.Name = name
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate command %q", name)
		}
		byName[name] = d
		kept = append(kept, d)
	}
	SortDescriptors(kept)
	return &ExecCatalog{
		hostCommand: append([]string(nil), hostCommand...),
		workDir:     strings.TrimSpace(workDir),
		descriptors: kept,
		byName:      byName,
	}, nil
}

func (c *ExecCatalog) List() ([]Descriptor, error) {
	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out, nil
}

// Run invokes the host binary with the command name and arguments appended.
// Stdout and stderr are merged in arrival order. A non-zero exit status is
// reported through Result, not as an error; err is reserved for failures to
// run at all (and for context expiry).
func (c *ExecCatalog) Run(ctx context.Context, name string, args []string) (Result, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Result{}, err
	}
	if _, ok := c.byName[name]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	argv := append(append([]string(nil), c.hostCommand[1:]...), name)
	argv = append(argv, args...)
	cmd := exec.CommandContext(ctx, c.hostCommand[0], argv...)
	cmd.Dir = c.workDir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	if runErr == nil {
		return Result{Output: combined.Bytes(), ExitCode: 0}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Output: combined.Bytes(), ExitCode: -1},
			fmt.Errorf("catalog: command %q aborted: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return Result{Output: combined.Bytes(), ExitCode: exitErr.ExitCode()}, nil
	}

	exitCode := 1
	var execErr *exec.Error
	if errors.As(runErr, &execErr) {
		exitCode = 127
	}
	return Result{Output: combined.Bytes(), ExitCode: exitCode},
		fmt.Errorf("catalog: run %q: %w", name, runErr)
}
