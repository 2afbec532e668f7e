package topic_refresh

import (
	"errors"

	jobrt "github.com/yungbote/neurobridge-lifecycle/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Task == nil {
		return nil
	}
	task := jc.Task

	jc.Progress("refresh", "Refreshing learner copy")
	vt, outcome, err := p.engine.Refresh(jc.Ctx, task.LearnerID, task.TopicID)
	if errors.Is(err, errs.ErrReadinessNotMet) {
		jc.Succeed(string(virtualize.OutcomeSkipped), map[string]any{"topic_id": task.TopicID, "reason": "not_ready"})
		return nil
	}
	if err != nil {
		jc.Fail("refresh", err)
		return nil
	}
	result := map[string]any{"topic_id": task.TopicID}
	if vt != nil {
		result["virtual_topic_id"] = vt.ID
		result["progress"] = vt.Progress
	}
	jc.Succeed(string(outcome), result)
	return nil
}
