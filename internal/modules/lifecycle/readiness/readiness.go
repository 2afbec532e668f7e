// Package readiness decides whether authored topics and modules carry enough
// content to be virtualized for a learner.
package readiness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

// Requirement names a rule a topic failed.
type Requirement string

const (
	RequireEvaluative       Requirement = types.TagEvaluative
	RequireCriticalThinking Requirement = types.TagCriticalThinking
	RequireInteractive      Requirement = types.TagInteractive
	RequireContent          Requirement = "no_content"
)

type Result struct {
	Ready   bool          `json:"ready"`
	Missing []Requirement `json:"missing,omitempty"`
}

type Evaluator struct {
	curriculum repos.CurriculumRepo
}

func New(curriculum repos.CurriculumRepo) *Evaluator {
	return &Evaluator{curriculum: curriculum}
}

// EvaluateUnits applies the topic rules to a set of content units: at least one
// evaluative unit, at least one critical-thinking unit, and every unit interactive.
func EvaluateUnits(units []*types.ContentUnit) Result {
	missing := []Requirement{}
	if len(units) == 0 {
		missing = append(missing, RequireContent)
	}
	hasEval, hasCT, allInteractive := false, false, true
	for _, u := range units {
		if u.HasTag(types.TagEvaluative) {
			hasEval = true
		}
		if u.HasTag(types.TagCriticalThinking) {
			hasCT = true
		}
		if !u.HasTag(types.TagInteractive) {
			allInteractive = false
		}
	}
	if !hasEval {
		missing = append(missing, RequireEvaluative)
	}
	if !hasCT {
		missing = append(missing, RequireCriticalThinking)
	}
	if !allInteractive {
		missing = append(missing, RequireInteractive)
	}
	if len(missing) == 0 {
		return Result{Ready: true}
	}
	return Result{Ready: false, Missing: missing}
}

func (e *Evaluator) IsTopicReady(ctx context.Context, topicID uuid.UUID) (Result, error) {
	dbc := dbctx.Context{Ctx: ctx}
	topic, err := e.curriculum.GetTopic(dbc, topicID)
	if err != nil {
		return Result{}, fmt.Errorf("load topic: %w", err)
	}
	if topic == nil {
		return Result{}, errs.NotFound("topic", topicID)
	}
	units, err := e.curriculum.ListContentUnits(dbc, topicID)
	if err != nil {
		return Result{}, fmt.Errorf("load content units: %w", err)
	}
	return EvaluateUnits(units), nil
}

// IsModuleReady requires at least one topic and every topic ready. Missing
// requirements are prefixed with the failing topic's order, e.g. "3:interactive".
func (e *Evaluator) IsModuleReady(ctx context.Context, moduleID uuid.UUID) (Result, error) {
	dbc := dbctx.Context{Ctx: ctx}
	module, err := e.curriculum.GetModule(dbc, moduleID)
	if err != nil {
		return Result{}, fmt.Errorf("load module: %w", err)
	}
	if module == nil {
		return Result{}, errs.NotFound("module", moduleID)
	}
	topics, err := e.curriculum.ListTopics(dbc, moduleID)
	if err != nil {
		return Result{}, fmt.Errorf("load topics: %w", err)
	}
	if len(topics) == 0 {
		return Result{Ready: false, Missing: []Requirement{RequireContent}}, nil
	}
	missing := []Requirement{}
	for _, t := range topics {
		res, err := e.IsTopicReady(ctx, t.ID)
		if err != nil {
			return Result{}, err
		}
		for _, m := range res.Missing {
			missing = append(missing, Requirement(fmt.Sprintf("%d:%s", t.Order, m)))
		}
	}
	if len(missing) == 0 {
		return Result{Ready: true}, nil
	}
	return Result{Ready: false, Missing: missing}, nil
}
