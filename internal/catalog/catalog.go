// Package catalog loads the exercise catalog: exercise contexts and named
// plans that seed a new session.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/claude/repsession/internal/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Plan is an ordered list of exercise ids.
type Plan struct {
	ID        string   `yaml:"id" validate:"required"`
	Name      string   `yaml:"name"`
	Exercises []string `yaml:"exercises" validate:"required,min=1,dive,required"`
}

type file struct {
	Exercises []models.ExerciseContext `yaml:"exercises" validate:"dive"`
	Plans     []Plan                   `yaml:"plans" validate:"dive"`
}

// Catalog is an immutable, validated exercise catalog.
type Catalog struct {
	exercises map[string]models.ExerciseContext
	order     []string
	plans     map[string]Plan
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{
		exercises: make(map[string]models.ExerciseContext, len(f.Exercises)),
		plans:     make(map[string]Plan, len(f.Plans)),
	}
	for _, ex := range f.Exercises {
		if _, dup := c.exercises[ex.ExerciseID]; dup {
			return nil, fmt.Errorf("duplicate exercise %q", ex.ExerciseID)
		}
		c.exercises[ex.ExerciseID] = ex
		c.order = append(c.order, ex.ExerciseID)
	}

	var errs []error
	for _, p := range f.Plans {
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		for _, id := range p.Exercises {
			if _, ok := c.exercises[id]; !ok {
				errs = append(errs, fmt.Errorf("plan %q: unknown exercise %q", p.ID, id))
			}
		}
		c.plans[p.ID] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Exercise returns a copy of the exercise with the given id.
func (c *Catalog) Exercise(id string) (models.ExerciseContext, bool) {
	ex, ok := c.exercises[id]
	if !ok {
		return models.ExerciseContext{}, false
	}
	return ex.Clone(), true
}

// Plan returns copies of the plan's exercises in order.
func (c *Catalog) Plan(id string) ([]models.ExerciseContext, bool) {
	p, ok := c.plans[id]
	if !ok {
		return nil, false
	}
	out := make([]models.ExerciseContext, 0, len(p.Exercises))
	for _, x := range p.Exercises {
		out = append(out, c.exercises[x].Clone())
	}
	return out, true
}

// Exercises returns all exercises in file order.
func (c *Catalog) Exercises() []models.ExerciseContext {
	out := make([]models.ExerciseContext, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.exercises[id].Clone())
	}
	return out
}

// Plans returns all plans.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}
