// Package catalog holds the server-owned course price list. It is the only
// source of prices and product descriptions used for checkout.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"gopkg.in/yaml.v3"
)

// Course is one purchasable course.
type Course struct {
	ID          string `json:"id" yaml:"id" validate:"required,max=64"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description"`
	PriceCents  int64  `json:"priceCents" yaml:"price_cents" validate:"gte=0"`
}

// Catalog is an immutable, validated set of courses keyed by ID.
type Catalog struct {
	courses map[string]Course
}

var validate = validator.New()

// New validates courses and builds a Catalog. IDs must be unique.
func New(courses []Course) (*Catalog, error) {
	if len(courses) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	byID := make(map[string]Course, len(courses))
	for _, c := range courses {
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("invalid course %q: %w", c.ID, err)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate course id %q", c.ID)
		}
		byID[c.ID] = c
	}
	return &Catalog{courses: byID}, nil
}

// Default returns the built-in course list.
func Default() *Catalog {
	c, err := New([]Course{
		{
			ID:          "ai-agents",
			Name:        "AI Agent Expert Masterclass",
			Description: "Complete masterclass on building production-ready AI agents",
			PriceCents:  19700,
		},
		{
			ID:          "prompt-engineering",
			Name:        "Prompt Engineering Masterclass",
			Description: "Learn to write effective prompts for consistent, high-quality AI results",
			PriceCents:  9700,
		},
		{
			ID:          "steering-ai",
			Name:        "Steering AI Behavior",
			Description: "Master techniques to control, constrain, and direct AI outputs",
			PriceCents:  14700,
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type fileFormat struct {
	Courses []Course `yaml:"courses"`
}

// LoadFile reads a YAML catalog of the form:
//
//	courses:
//	  - id: ai-agents
//	    name: AI Agent Expert Masterclass
//	    description: ...
//	    price_cents: 19700
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Courses)
}

// Lookup returns the course for id, or an ErrUnknownCourse app error.
func (c *Catalog) Lookup(id string) (Course, error) {
	course, ok := c.courses[id]
	if !ok {
		return Course{}, apperrors.Detail(apperrors.ErrUnknownCourse, "Invalid course selected")
	}
	return course, nil
}

// Has reports whether id is a known course.
func (c *Catalog) Has(id string) bool {
	_, ok := c.courses[id]
	return ok
}

// List returns a copy of every course, sorted by ID.
func (c *Catalog) List() []Course {
	out := make([]Course, 0, len(c.courses))
	for _, course := range c.courses {
		out = append(out, course)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
