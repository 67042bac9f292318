package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RunFunc implements one in-process command.
type RunFunc func(ctx context.Context, args []string) (Result, error)

// StaticCatalog holds in-process commands. Used by embedding hosts and
// throughout the tests.
type StaticCatalog struct {
	mu       sync.RWMutex
	entries  map[string]staticEntry
	runCount map[string]int
}

type staticEntry struct {
	descriptor Descriptor
	run        RunFunc
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		entries:  make(map[string]staticEntry),
		runCount: make(map[string]int),
	}
}

// Register adds one command. Registering an existing name replaces it.
func (c *StaticCatalog) Register(d Descriptor, run RunFunc) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return ErrEmptyName
	}
	d.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = staticEntry{descriptor: d, run: run}
	return nil
}

func (c *StaticCatalog) List() ([]Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.descriptor)
	}
	SortDescriptors(out)
	return out, nil
}

func (c *StaticCatalog) Run(ctx context.Context, name string, args []string) (Result, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	entry, ok := c.entries[name]
	if ok {
		c.runCount[name]++
	}
	c.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if entry.run == nil {
		return Result{}, nil
	}
	return entry.run(ctx, args)
}

// RunCount reports how many times a command has been invoked.
func (c *StaticCatalog) RunCount(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runCount[strings.TrimSpace(name)]
}
