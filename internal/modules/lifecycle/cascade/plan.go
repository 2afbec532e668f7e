// Package cascade plans and executes the deletion of an entity together with
// every record that depends on it, deepest dependents first.
package cascade

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/graph"
)

// Step deletes one id set from one collection.
type Step struct {
	Index      int            `json:"index"`
	Collection string         `json:"collection"`
	Strategy   graph.Strategy `json:"strategy"`
	IDs        []uuid.UUID    `json:"ids"`
	// Bookkeeping steps remove task records rather than content.
	Bookkeeping bool `json:"bookkeeping,omitempty"`
}

type DeletionPlan struct {
	Collection string    `json:"collection"`
	TargetID   uuid.UUID `json:"target_id"`
	DryRun     bool      `json:"dry_run"`
	// VisitOrder is the topological order the planner walked from the target.
	VisitOrder []string `json:"visit_order"`
	// Steps run in order: the reverse of VisitOrder, empty collections dropped.
	Steps            []Step   `json:"steps"`
	EmptyCollections []string `json:"empty_collections,omitempty"`
	// DependentCount counts content records below the target. Bookkeeping
	// records are counted apart; TotalCount includes both and the target.
	DependentCount   int       `json:"dependent_count"`
	BookkeepingCount int       `json:"bookkeeping_count"`
	TotalCount       int       `json:"total_count"`
	PlannedAt        time.Time `json:"planned_at"`
}

// Counts returns the number of records each step would remove.
func (p *DeletionPlan) Counts() map[string]int {
	out := map[string]int{}
	if p == nil {
		return out
	}
	for _, s := range p.Steps {
		out[s.Collection] += len(s.IDs)
	}
	return out
}

// WithLeadingStep returns a copy of the plan with step run before all others.
func (p *DeletionPlan) WithLeadingStep(step Step) *DeletionPlan {
	cp := *p
	cp.Steps = make([]Step, 0, len(p.Steps)+1)
	cp.Steps = append(cp.Steps, step)
	cp.Steps = append(cp.Steps, p.Steps...)
	for i := range cp.Steps {
		cp.Steps[i].Index = i
	}
	if step.Bookkeeping {
		cp.BookkeepingCount += len(step.IDs)
	} else {
		cp.DependentCount += len(step.IDs)
	}
	cp.TotalCount += len(step.IDs)
	return &cp
}

type StepResult struct {
	Index      int    `json:"index"`
	Collection string `json:"collection"`
	Requested  int    `json:"requested"`
	Deleted    int64  `json:"deleted"`
}

type ExecutionResult struct {
	Collection    string           `json:"collection"`
	TargetID      uuid.UUID        `json:"target_id"`
	Steps         []StepResult     `json:"steps"`
	DeletedCounts map[string]int64 `json:"deleted_counts"`
	TotalDeleted  int64            `json:"total_deleted"`
	// FailedStep is the index to resume from, nil when the plan finished.
	FailedStep *int `json:"failed_step,omitempty"`
	Completed  bool `json:"completed"`
}

// PartialFailure reports the step a cascade stopped at. Steps before it have
// been applied; the step and everything after it have not.
type PartialFailure struct {
	Step       int
	Collection string
	Err        error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("cascade stopped at step %d (%s): %v", e.Step, e.Collection, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

func deleteMode(s graph.Strategy) store.DeleteMode {
	if s == graph.StrategySoft {
		return store.DeleteSoft
	}
	return store.DeleteHard
}
