// Package catalog defines the capability boundary to the host application's
// command set. The agent core only ever sees List and Run; how the host
// enumerates or implements its commands stays behind this interface.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("catalog: unknown command")
	ErrEmptyName      = errors.New("catalog: command name required")
)

// Descriptor names one runnable command. Help and ArgsHint are opaque
// metadata passed through to the server during sync.
type Descriptor struct {
	Name     string `json:"name"`
	Help     string `json:"help,omitempty"`
	ArgsHint string `json:"args_hint,omitempty"`
}

// Result is the outcome of one command run: merged stdout/stderr and the
// process exit status.
type Result struct {
	Output   []byte
	ExitCode int
}

// Catalog is the host-application capability consumed by the control loop.
// Run may fail or panic arbitrarily; callers contain faults at their own
// boundary.
type Catalog interface {
	List() ([]Descriptor, error)
	Run(ctx context.Context, name string, args []string) (Result, error)
}

// SortDescriptors orders descriptors by name in place.
func SortDescriptors(list []Descriptor) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}
