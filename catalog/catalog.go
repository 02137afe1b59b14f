// Package catalog holds the read-only registry of self-care tasks and levels.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"selfcare-api/domain"
)

//go:embed tasks.yaml
var defaultCatalog []byte

// Catalog is immutable after Load.
type Catalog struct {
	tasks  []domain.Task
	byID   map[string]int
	levels []domain.Level
}

type document struct {
	Levels []domain.Level `yaml:"levels"`
	Tasks  []domain.Task  `yaml:"tasks"`
}

// Default returns the catalog shipped with the service.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		tasks:  make([]domain.Task, 0, len(doc.Tasks)),
		byID:   make(map[string]int, len(doc.Tasks)),
		levels: doc.Levels,
	}
	for i, t := range doc.Tasks {
		if err := validateTask(t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("task %q: duplicate id", t.ID)
		}
		c.byID[t.ID] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return c, nil
}

func validateTask(t domain.Task) error {
	switch {
	case t.ID == "":
		return fmt.Errorf("id is required")
	case strings.ContainsAny(t.ID, `/\#?|`):
		return fmt.Errorf("task %q: id contains a reserved character", t.ID)
	case t.Title == "":
		return fmt.Errorf("task %q: title is required", t.ID)
	case !t.Category.Valid():
		return fmt.Errorf("task %q: unknown type %q", t.ID, t.Category)
	case t.Level < 1 || t.Level > domain.MaxLevel:
		return fmt.Errorf("task %q: level %d out of range", t.ID, t.Level)
	case t.Duration <= 0:
		return fmt.Errorf("task %q: duration must be positive", t.ID)
	}
	if _, ok := t.Difficulty.XP(); !ok {
		return fmt.Errorf("task %q: unknown difficulty %q", t.ID, t.Difficulty)
	}
	return nil
}

// ListTasks returns tasks matching level (0 for any) and mood ("" for any) in
// catalog order.
func (c *Catalog) ListTasks(level int, mood string) []domain.Task {
	out := make([]domain.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if level != 0 && t.Level != level {
			continue
		}
		if mood != "" && !t.ShownFor(mood) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TasksForLevel is ListTasks without a mood filter.
func (c *Catalog) TasksForLevel(level int) []domain.Task {
	return c.ListTasks(level, "")
}

// Task looks up a task by id.
func (c *Catalog) Task(id string) (domain.Task, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %q: %w", id, domain.ErrNotFound)
	}
	return c.tasks[i], nil
}

// Levels returns the level descriptors.
func (c *Catalog) Levels() []domain.Level {
	out := make([]domain.Level, len(c.levels))
	copy(out, c.levels)
	return out
}

// Len reports the number of tasks.
func (c *Catalog) Len() int { return len(c.tasks) }
