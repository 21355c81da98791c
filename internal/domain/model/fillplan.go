package model

import (
	"errors"
	"fmt"
	"strings"
)

// FillActionKind enumerates the supported form interactions.
type FillActionKind string

const (
	// ActionFill types a value into a text-like input.
	ActionFill FillActionKind = "fill"
	// ActionSelect chooses an option in a select element.
	ActionSelect FillActionKind = "select"
	// ActionCheck toggles a checkbox or radio input.
	ActionCheck FillActionKind = "check"
	// ActionClick clicks an element without a value.
	ActionClick FillActionKind = "click"
)

// FillAction maps one business-profile value onto one form field.
type FillAction struct {
	Selector string         `json:"selector"`
	Value    string         `json:"value,omitempty"`
	Kind     FillActionKind `json:"kind"`
	Field    string         `json:"field,omitempty"`
}

// Obstacle names a known complication the oracle predicts for a directory.
type Obstacle string

const (
	// ObstacleCaptcha means the form is expected to present a CAPTCHA.
	ObstacleCaptcha Obstacle = "expects_captcha"
	// ObstacleLogin means the directory requires an authenticated session.
	ObstacleLogin Obstacle = "requires_login"
)

// FillPlan is the typed instruction set the oracle produces: ordered fill
// actions, one submit action, and the obstacles the worker should prepare
// for. The execution core never touches raw untyped HTML; everything flows
// through this structure.
type FillPlan struct {
	DirectoryID string       `json:"directory_id,omitempty"`
	Actions     []FillAction `json:"fill_actions"`
	Submit      FillAction   `json:"submit_action"`
	Obstacles   []Obstacle   `json:"obstacles,omitempty"`
	// Heuristic marks best-effort plans produced without a learned mapping.
	Heuristic bool `json:"heuristic,omitempty"`
}

// Validate checks that the plan is executable.
func (p *FillPlan) Validate() error {
	if len(p.Actions) == 0 {
		return errors.New("fill plan has no actions")
	}
	for i, a := range p.Actions {
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("action %d: selector is required", i)
		}
	}
	if strings.TrimSpace(p.Submit.Selector) == "" {
		return errors.New("submit action selector is required")
	}
	return nil
}

// HasObstacle reports whether the plan carries the given obstacle.
func (p *FillPlan) HasObstacle(o Obstacle) bool {
	for _, ob := range p.Obstacles {
		if ob == o {
			return true
		}
	}
	return false
}
