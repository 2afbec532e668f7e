package topic_generate

import (
	"errors"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	jobrt "github.com/yungbote/neurobridge-lifecycle/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Task == nil {
		return nil
	}
	task := jc.Task

	jc.Progress("materialize", "Materializing topic")
	vt, outcome, err := p.engine.Materialize(jc.Ctx, task.LearnerID, task.TopicID)
	if errors.Is(err, errs.ErrReadinessNotMet) {
		// the scheduler re-plans the topic once authoring catches up
		jc.Succeed(string(virtualize.OutcomeSkipped), map[string]any{"topic_id": task.TopicID})
		return nil
	}
	if err != nil {
		jc.Fail("materialize", err)
		return nil
	}
	jc.Succeed(string(outcome), map[string]any{"virtual_topic_id": vt.ID})

	if outcome != virtualize.OutcomeCreated || p.scheduler == nil {
		return nil
	}
	// primed (pending) modules are refilled by the module the learner is in
	vm, err := p.modules.GetByLearnerModule(dbctx.New(jc.Ctx), task.LearnerID, task.ModuleID)
	if err != nil || vm == nil || vm.Status != types.ModuleStatusActive {
		return nil
	}
	if _, err := p.scheduler.Reconcile(jc.Ctx, task.LearnerID, task.ModuleID); err != nil {
		p.log.Warn("Reconcile after generate failed",
			"learner_id", task.LearnerID,
			"module_id", task.ModuleID,
			"error", err,
		)
	}
	return nil
}
