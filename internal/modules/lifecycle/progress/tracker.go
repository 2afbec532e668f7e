// Package progress records learner completions against virtual content and
// feeds the resulting progress back into the lookahead scheduler.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Scheduler interface {
	Reconcile(ctx context.Context, learnerID, moduleID uuid.UUID) (*lookahead.Status, error)
	PrimeNextModule(ctx context.Context, learnerID, moduleID uuid.UUID) (*lookahead.Status, error)
}

// ActivityToucher records learner activity for queue demotion.
type ActivityToucher interface {
	TouchLearner(dbc dbctx.Context, learnerID uuid.UUID) error
}

type Deps struct {
	Log       *logger.Logger
	Repos     repos.Set
	Scheduler Scheduler
	Activity  ActivityToucher
	// AdvancePct and ModulePrimePct default to the scheduler's defaults.
	AdvancePct     float64
	ModulePrimePct float64
	Now            func() time.Time
}

type Tracker struct {
	log        *logger.Logger
	repos      repos.Set
	scheduler  Scheduler
	activity   ActivityToucher
	advancePct float64
	primePct   float64
	now        func() time.Time
}

func New(deps Deps) *Tracker {
	d := lookahead.DefaultConfig()
	if deps.AdvancePct <= 0 {
		deps.AdvancePct = d.AdvancePct
	}
	if deps.ModulePrimePct <= 0 {
		deps.ModulePrimePct = d.ModulePrimePct
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		log:        deps.Log.With("component", "ProgressTracker"),
		repos:      deps.Repos,
		scheduler:  deps.Scheduler,
		activity:   deps.Activity,
		advancePct: deps.AdvancePct,
		primePct:   deps.ModulePrimePct,
		now:        deps.Now,
	}
}

type Progress struct {
	VirtualContentUnitID uuid.UUID  `json:"virtual_content_unit_id"`
	VirtualTopicID       uuid.UUID  `json:"virtual_topic_id"`
	VirtualModuleID      uuid.UUID  `json:"virtual_module_id"`
	LearnerID            uuid.UUID  `json:"learner_id"`
	ModuleID             uuid.UUID  `json:"module_id"`
	TopicID              uuid.UUID  `json:"topic_id"`
	TopicProgress        float64    `json:"topic_progress"`
	ModuleProgress       float64    `json:"module_progress"`
	ModuleStatus         string     `json:"module_status"`
	Unlocked             *uuid.UUID `json:"unlocked_virtual_topic_id,omitempty"`
	// Duplicate is set when the unit had already been completed.
	Duplicate  bool `json:"duplicate"`
	Reconciled bool `json:"reconciled"`
	PrimedNext bool `json:"primed_next"`
}

// RecordCompletion marks a virtual content unit completed and rolls the change
// up through its topic and module. Repeating a completion is a no-op.
func (t *Tracker) RecordCompletion(ctx context.Context, vcuID uuid.UUID, score float64) (*Progress, error) {
	dbc := dbctx.New(ctx)
	vcu, err := t.repos.VirtualUnits.GetByID(dbc, vcuID)
	if err != nil {
		return nil, fmt.Errorf("load virtual content unit: %w", err)
	}
	if vcu == nil {
		return nil, errs.NotFound("virtual content unit", vcuID)
	}
	vt, err := t.repos.VirtualTopics.GetByID(dbc, vcu.VirtualTopicID)
	if err != nil {
		return nil, fmt.Errorf("load virtual topic: %w", err)
	}
	if vt == nil {
		return nil, errs.NotFound("virtual topic", vcu.VirtualTopicID)
	}
	vm, err := t.repos.VirtualModules.GetByID(dbc, vt.VirtualModuleID)
	if err != nil {
		return nil, fmt.Errorf("load virtual module: %w", err)
	}
	if vm == nil {
		return nil, errs.NotFound("virtual module", vt.VirtualModuleID)
	}

	now := t.now()
	changed, err := t.repos.VirtualUnits.MarkCompleted(dbc, vcu.ID, score, now)
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	if t.activity != nil {
		if err := t.activity.TouchLearner(dbc, vt.LearnerID); err != nil {
			t.log.Warn("touch learner failed", "learner_id", vt.LearnerID, "error", err)
		}
	}

	out := &Progress{
		VirtualContentUnitID: vcu.ID,
		VirtualTopicID:       vt.ID,
		VirtualModuleID:      vm.ID,
		LearnerID:            vt.LearnerID,
		ModuleID:             vm.ModuleID,
		TopicID:              vt.TopicID,
		TopicProgress:        vt.Progress,
		ModuleProgress:       vm.Progress,
		ModuleStatus:         vm.Status,
		Duplicate:            !changed,
	}
	if !changed {
		return out, nil
	}

	// topic
	units, err := t.repos.VirtualUnits.ListByVirtualTopic(dbc, vt.ID)
	if err != nil {
		return nil, fmt.Errorf("load virtual units: %w", err)
	}
	done := 0
	for _, u := range units {
		if u.Completed {
			done++
		}
	}
	prevTopic := vt.Progress
	topicPct := percent(done, len(units))
	if topicPct != prevTopic {
		var completedAt *time.Time
		if topicPct >= 100 {
			completedAt = &now
		}
		if err := t.repos.VirtualTopics.UpdateProgress(dbc, vt.ID, topicPct, completedAt); err != nil {
			return nil, fmt.Errorf("update topic progress: %w", err)
		}
		vt.Progress = topicPct
	}
	out.TopicProgress = topicPct

	if prevTopic < 100 && topicPct >= 100 {
		unlocked, err := t.unlockNext(dbc, vm, vt)
		if err != nil {
			return nil, err
		}
		out.Unlocked = unlocked
	}

	// module
	prevModule := vm.Progress
	modulePct, err := t.moduleProgress(dbc, vm, vt)
	if err != nil {
		return nil, err
	}
	status := vm.Status
	var completedAt *time.Time
	switch {
	case modulePct >= 100:
		status = types.ModuleStatusCompleted
		completedAt = &now
	case vm.Status == types.ModuleStatusPending && modulePct > 0:
		status = types.ModuleStatusActive
	}
	if modulePct != prevModule || status != vm.Status {
		if err := t.repos.VirtualModules.UpdateProgress(dbc, vm.ID, modulePct, status, completedAt); err != nil {
			return nil, fmt.Errorf("update module progress: %w", err)
		}
	}
	out.ModuleProgress = modulePct
	out.ModuleStatus = status

	t.log.Info("Completion recorded",
		"learner_id", vt.LearnerID,
		"virtual_topic_id", vt.ID,
		"topic_progress", topicPct,
		"module_progress", modulePct,
	)

	if t.scheduler == nil {
		return out, nil
	}
	if prevModule < t.primePct && modulePct >= t.primePct {
		if _, err := t.scheduler.PrimeNextModule(ctx, vt.LearnerID, vm.ModuleID); err != nil {
			t.log.Warn("prime next module failed", "learner_id", vt.LearnerID, "module_id", vm.ModuleID, "error", err)
		} else {
			out.PrimedNext = true
		}
	}
	crossedAdvance := prevTopic < t.advancePct && topicPct >= t.advancePct
	crossedDone := prevTopic < 100 && topicPct >= 100
	if crossedAdvance || crossedDone {
		if _, err := t.scheduler.Reconcile(ctx, vt.LearnerID, vm.ModuleID); err != nil {
			t.log.Warn("reconcile after progress failed", "learner_id", vt.LearnerID, "module_id", vm.ModuleID, "error", err)
		} else {
			out.Reconciled = true
		}
	}
	return out, nil
}

// unlockNext unlocks the virtual topic of the next authored topic, if it is
// materialized and still locked. A next topic that was never materialized is
// unlocked by the engine when it is.
func (t *Tracker) unlockNext(dbc dbctx.Context, vm *types.VirtualModule, vt *types.VirtualTopic) (*uuid.UUID, error) {
	topics, err := t.repos.Curriculum.ListTopics(dbc, vm.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	next := -1
	for i, tp := range topics {
		if tp.ID == vt.TopicID {
			next = i + 1
			break
		}
	}
	if next < 0 || next >= len(topics) {
		return nil, nil
	}
	nvt, err := t.repos.VirtualTopics.GetByLearnerTopic(dbc, vt.LearnerID, topics[next].ID)
	if err != nil {
		return nil, fmt.Errorf("load virtual topic: %w", err)
	}
	if nvt == nil || nvt.Lock != types.LockLocked {
		return nil, nil
	}
	if err := t.repos.VirtualTopics.UpdateLock(dbc, nvt.ID, types.LockUnlocked); err != nil {
		return nil, fmt.Errorf("unlock virtual topic: %w", err)
	}
	id := nvt.ID
	return &id, nil
}

// moduleProgress averages topic progress over every authored topic, so topics
// not yet materialized count as zero.
func (t *Tracker) moduleProgress(dbc dbctx.Context, vm *types.VirtualModule, updated *types.VirtualTopic) (float64, error) {
	topics, err := t.repos.Curriculum.ListTopics(dbc, vm.ModuleID)
	if err != nil {
		return 0, fmt.Errorf("load topics: %w", err)
	}
	if len(topics) == 0 {
		return 0, nil
	}
	vts, err := t.repos.VirtualTopics.ListByVirtualModule(dbc, vm.ID)
	if err != nil {
		return 0, fmt.Errorf("load virtual topics: %w", err)
	}
	sum := 0.0
	for _, v := range vts {
		if v.ID == updated.ID {
			sum += updated.Progress
			continue
		}
		sum += v.Progress
	}
	pct := sum / float64(len(topics))
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) * 100 / float64(total)
}
