package taskgraph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vango-dev/assetpipe/internal/errors"
)

// Func is the body of a task.
type Func func(ctx context.Context) error

// Task is a named unit of work with declared dependencies.
type Task struct {
	// Name uniquely identifies the task.
	Name string

	// Deps are the names of tasks that must finish first.
	Deps []string

	// Run is the task body.
	Run Func

	// ContinueOnError lets dependents run even if this task fails.
	ContinueOnError bool
}

// Graph is a validated, immutable task DAG.
type Graph struct {
	tasks      []Task           // insertion order
	index      map[string]int   // name -> position in tasks
	dependents map[string][]string
	order      []string // a topological order
}

// New builds and validates a graph.
func New(tasks ...Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		tasks:      make([]Task, 0, len(tasks)),
		index:      make(map[string]int, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if t.Run == nil {
			return nil, invalidf("task %q has no body", t.Name)
		}
		if _, dup := g.index[t.Name]; dup {
			return nil, invalidf("duplicate task name %q", t.Name)
		}
		g.index[t.Name] = len(g.tasks)
		g.tasks = append(g.tasks, t)
	}

	for _, t := range g.tasks {
		seen := make(map[string]bool, len(t.Deps))
		for _, dep := range t.Deps {
			if dep == t.Name {
				return nil, invalidf("task %q depends on itself", t.Name)
			}
			if _, ok := g.index[dep]; !ok {
				return nil, invalidf("task %q depends on unknown task %q", t.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.dependents[dep] = append(g.dependents[dep], t.Name)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// topoSort runs Kahn's algorithm; leftover nodes form a cycle.
func (g *Graph) topoSort() ([]string, error) {
	indeg := make(map[string]int, len(g.tasks))
	for _, t := range g.tasks {
		indeg[t.Name] = len(uniq(t.Deps))
	}

	var queue []string
	for _, t := range g.tasks {
		if indeg[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	order := make([]string, 0, len(g.tasks))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dep := range g.dependents[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(g.tasks) {
		var cyclic []string
		for _, t := range g.tasks {
			if indeg[t.Name] > 0 {
				cyclic = append(cyclic, t.Name)
			}
		}
		return nil, invalidf("cycle detected among tasks: %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

// Order returns a topological order of task names.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Task returns the task with the given name.
func (g *Graph) Task(name string) (Task, bool) {
	i, ok := g.index[name]
	if !ok {
		return Task{}, false
	}
	return g.tasks[i], true
}

// Dependents returns the names of tasks that depend directly on name.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

func uniq(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}

func invalidf(format string, args ...any) error {
	return errors.New("E150").WithDetail(fmt.Sprintf(format, args...))
}
