package memstore

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

// =========================
// Curriculum
// =========================

type curriculumView struct{ s *Store }

func (v curriculumView) GetPlan(_ dbctx.Context, id uuid.UUID) (*types.Plan, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if p, ok := v.s.plans[id]; ok && live(p.DeletedAt) {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (v curriculumView) GetModule(_ dbctx.Context, id uuid.UUID) (*types.Module, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if m, ok := v.s.modules[id]; ok && live(m.DeletedAt) {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (v curriculumView) GetTopic(_ dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if t, ok := v.s.topics[id]; ok && live(t.DeletedAt) {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (v curriculumView) ListModules(_ dbctx.Context, planID uuid.UUID) ([]*types.Module, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.Module{}
	for _, m := range v.s.modules {
		if m.PlanID == planID && live(m.DeletedAt) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v curriculumView) ListTopics(_ dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.Topic{}
	for _, t := range v.s.topics {
		if t.ModuleID == moduleID && live(t.DeletedAt) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTopics(out)
	return out, nil
}

func (v curriculumView) ListReadyTopics(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error) {
	all, _ := v.ListTopics(dbc, moduleID)
	out := []*types.Topic{}
	for _, t := range all {
		if t.Ready {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v curriculumView) ListContentUnits(_ dbctx.Context, topicID uuid.UUID) ([]*types.ContentUnit, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.ContentUnit{}
	for _, u := range v.s.units {
		if u.TopicID == topicID && live(u.DeletedAt) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =========================
// Virtual modules
// =========================

type moduleView struct{ s *Store }

func (v moduleView) GetByID(_ dbctx.Context, id uuid.UUID) (*types.VirtualModule, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if m, ok := v.s.vms[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (v moduleView) GetByLearnerModule(_ dbctx.Context, learnerID, moduleID uuid.UUID) (*types.VirtualModule, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, m := range v.s.vms {
		if m.LearnerID == learnerID && m.ModuleID == moduleID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (v moduleView) ListByLearner(_ dbctx.Context, learnerID uuid.UUID) ([]*types.VirtualModule, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.VirtualModule{}
	for _, m := range v.s.vms {
		if m.LearnerID == learnerID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v moduleView) UpdateStatus(_ dbctx.Context, id uuid.UUID, status string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if m, ok := v.s.vms[id]; ok {
		m.Status = status
		m.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (v moduleView) UpdateProgress(_ dbctx.Context, id uuid.UUID, progress float64, status string, completedAt *time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if m, ok := v.s.vms[id]; ok {
		m.Progress = progress
		m.CompletedAt = completedAt
		if status != "" {
			m.Status = status
		}
		m.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// =========================
// Virtual topics
// =========================

type topicView struct{ s *Store }

func (v topicView) GetByID(_ dbctx.Context, id uuid.UUID) (*types.VirtualTopic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if t, ok := v.s.vts[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (v topicView) GetByLearnerTopic(_ dbctx.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, t := range v.s.vts {
		if t.LearnerID == learnerID && t.TopicID == topicID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (v topicView) ListByVirtualModule(_ dbctx.Context, virtualModuleID uuid.UUID) ([]*types.VirtualTopic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.VirtualTopic{}
	for _, t := range v.s.vts {
		if t.VirtualModuleID == virtualModuleID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (v topicView) ListByTopic(_ dbctx.Context, topicID uuid.UUID) ([]*types.VirtualTopic, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.VirtualTopic{}
	for _, t := range v.s.vts {
		if t.TopicID == topicID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v topicView) UpdateLock(_ dbctx.Context, id uuid.UUID, lock string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.vts[id]; ok {
		t.Lock = lock
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (v topicView) UpdateProgress(_ dbctx.Context, id uuid.UUID, progress float64, completedAt *time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.vts[id]; ok {
		t.Progress = progress
		t.CompletedAt = completedAt
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// =========================
// Virtual content units
// =========================

type unitView struct{ s *Store }

func (v unitView) GetByID(_ dbctx.Context, id uuid.UUID) (*types.VirtualContentUnit, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if u, ok := v.s.vcus[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (v unitView) ListByVirtualTopic(_ dbctx.Context, virtualTopicID uuid.UUID) ([]*types.VirtualContentUnit, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.VirtualContentUnit{}
	for _, u := range v.s.vcus {
		if u.VirtualTopicID == virtualTopicID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (v unitView) MarkCompleted(_ dbctx.Context, id uuid.UUID, score float64, at time.Time) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.vcus[id]
	if !ok || u.Completed {
		return false, nil
	}
	sc := score
	u.Completed = true
	u.Score = &sc
	u.CompletedAt = &at
	u.UpdatedAt = at
	return true, nil
}

func (v unitView) UpdatePayload(_ dbctx.Context, id uuid.UUID, payload datatypes.JSON) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if u, ok := v.s.vcus[id]; ok {
		u.Payload = payload
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// =========================
// Generation tasks
// =========================

type taskView struct{ s *Store }

func (v taskView) Create(_ dbctx.Context, task *types.GenerationTask) error {
	if task == nil {
		return nil
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.insertTaskLocked(task)
}

func (s *Store) insertTaskLocked(task *types.GenerationTask) error {
	if err := s.failInsert["generation_task"]; err != nil {
		return err
	}
	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	if task.Active() {
		for _, t := range s.tasks {
			if t.Active() && t.IdempotencyKey == task.IdempotencyKey {
				return store.ErrDuplicate
			}
		}
	}
	stamp(&task.CreatedAt, &task.UpdatedAt)
	cp := *task
	s.seq++
	s.tasks[task.ID] = &cp
	s.taskSeq[task.ID] = s.seq
	return nil
}

func (v taskView) GetByID(_ dbctx.Context, id uuid.UUID) (*types.GenerationTask, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if t, ok := v.s.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (v taskView) GetActiveByKey(_ dbctx.Context, key string) (*types.GenerationTask, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, t := range v.s.tasks {
		if t.Active() && t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (v taskView) ListActiveByLearnerModule(_ dbctx.Context, learnerID, moduleID uuid.UUID) ([]*types.GenerationTask, error) {
	return v.filter(func(t *types.GenerationTask) bool {
		return t.Active() && t.LearnerID == learnerID && t.ModuleID == moduleID
	}), nil
}

func (v taskView) ListByLearner(_ dbctx.Context, learnerID uuid.UUID) ([]*types.GenerationTask, error) {
	return v.filter(func(t *types.GenerationTask) bool { return t.LearnerID == learnerID }), nil
}

func (v taskView) filter(keep func(*types.GenerationTask) bool) []*types.GenerationTask {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []*types.GenerationTask{}
	for _, t := range v.s.tasks {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return v.s.taskSeq[out[i].ID] < v.s.taskSeq[out[j].ID] })
	return out
}

func (v taskView) ClaimNext(_ dbctx.Context, now, staleBefore time.Time) (*types.GenerationTask, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var best *types.GenerationTask
	for _, t := range v.s.tasks {
		runnable := t.Status == types.TaskStatusQueued && !t.NextRunAt.After(now)
		stale := t.Status == types.TaskStatusRunning && t.HeartbeatAt != nil && t.HeartbeatAt.Before(staleBefore)
		if !runnable && !stale {
			continue
		}
		if best == nil || v.s.ahead(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	at := now
	best.Status = types.TaskStatusRunning
	best.LockedAt = &at
	best.HeartbeatAt = &at
	best.UpdatedAt = at
	cp := *best
	return &cp, nil
}

// ahead orders by priority desc, then creation, then insertion sequence.
func (s *Store) ahead(a, b *types.GenerationTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return s.taskSeq[a.ID] < s.taskSeq[b.ID]
}

func (v taskView) Heartbeat(_ dbctx.Context, id uuid.UUID, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.tasks[id]; ok && t.Status == types.TaskStatusRunning {
		hb := at
		t.HeartbeatAt = &hb
		t.UpdatedAt = at
	}
	return nil
}

func (v taskView) Finish(_ dbctx.Context, id uuid.UUID, status, outcome, errMsg string, at time.Time) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	t, ok := v.s.tasks[id]
	if !ok || t.Terminal() {
		return false, nil
	}
	fin := at
	t.Status = status
	t.Outcome = outcome
	t.Error = errMsg
	t.LockedAt = nil
	t.FinishedAt = &fin
	t.UpdatedAt = at
	return true, nil
}

func (v taskView) Requeue(_ dbctx.Context, id uuid.UUID, retryCount int, nextRunAt time.Time, errMsg string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.tasks[id]; ok {
		t.Status = types.TaskStatusQueued
		t.RetryCount = retryCount
		t.NextRunAt = nextRunAt
		t.Error = errMsg
		t.LockedAt = nil
		t.HeartbeatAt = nil
		t.UpdatedAt = at
	}
	return nil
}

func (v taskView) RaisePriority(_ dbctx.Context, id uuid.UUID, priority int) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.tasks[id]; ok && t.Priority < priority {
		t.Priority = priority
	}
	return nil
}

func (v taskView) TouchLearner(_ dbctx.Context, learnerID uuid.UUID, at time.Time, floor int) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	for _, t := range v.s.tasks {
		if t.LearnerID == learnerID && t.Status == types.TaskStatusQueued {
			t.LastActivityAt = at
			if t.Priority < floor {
				t.Priority = floor
			}
			n++
		}
	}
	return n, nil
}

func (v taskView) DemoteIdle(_ dbctx.Context, idleBefore time.Time, priority int) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	for _, t := range v.s.tasks {
		if t.Status == types.TaskStatusQueued && t.LastActivityAt.Before(idleBefore) && t.Priority > priority {
			t.Priority = priority
			n++
		}
	}
	return n, nil
}

// =========================
// Generic store
// =========================

type genericView struct{ s *Store }

func (v genericView) Collections() []string {
	return []string{
		"plan", "module", "topic", "content_unit",
		"virtual_module", "virtual_topic", "virtual_content_unit", "generation_task",
	}
}

func (v genericView) Insert(_ dbctx.Context, record interface{}) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r := record.(type) {
	case *types.VirtualModule:
		if err := s.failInsert["virtual_module"]; err != nil {
			return err
		}
		if _, ok := s.vms[r.ID]; ok {
			return store.ErrDuplicate
		}
		for _, m := range s.vms {
			if m.LearnerID == r.LearnerID && m.ModuleID == r.ModuleID {
				return store.ErrDuplicate
			}
		}
		stamp(&r.CreatedAt, &r.UpdatedAt)
		cp := *r
		s.vms[r.ID] = &cp
	case *types.VirtualTopic:
		if err := s.failInsert["virtual_topic"]; err != nil {
			return err
		}
		if _, ok := s.vts[r.ID]; ok {
			return store.ErrDuplicate
		}
		for _, t := range s.vts {
			if t.LearnerID == r.LearnerID && t.TopicID == r.TopicID {
				return store.ErrDuplicate
			}
		}
		stamp(&r.CreatedAt, &r.UpdatedAt)
		cp := *r
		s.vts[r.ID] = &cp
	case *types.VirtualContentUnit:
		if err := s.failInsert["virtual_content_unit"]; err != nil {
			return err
		}
		if _, ok := s.vcus[r.ID]; ok {
			return store.ErrDuplicate
		}
		for _, u := range s.vcus {
			if u.VirtualTopicID == r.VirtualTopicID && u.ContentUnitID == r.ContentUnitID {
				return store.ErrDuplicate
			}
		}
		stamp(&r.CreatedAt, &r.UpdatedAt)
		cp := *r
		s.vcus[r.ID] = &cp
	case *types.GenerationTask:
		return s.insertTaskLocked(r)
	default:
		return errs.Invalid("memstore: unsupported record %T", record)
	}
	return nil
}

func (v genericView) FindIDs(_ dbctx.Context, collection, field string, values []uuid.UUID) ([]uuid.UUID, error) {
	if !knownCollection(collection) {
		return nil, errs.Invalid("unknown collection %q", collection)
	}
	if !store.ValidField(field) {
		return nil, errs.Invalid("bad reference field %q", field)
	}
	want := map[uuid.UUID]bool{}
	for _, id := range values {
		want[id] = true
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := []uuid.UUID{}
	for _, r := range v.s.rowsLocked(collection) {
		val, ok := r.fields[field]
		if ok && want[val] {
			out = append(out, r.id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (v genericView) DeleteMany(_ dbctx.Context, collection string, ids []uuid.UUID, mode store.DeleteMode) (int64, error) {
	if !knownCollection(collection) {
		return 0, errs.Invalid("unknown collection %q", collection)
	}
	if !mode.Valid() {
		return 0, errs.Invalid("bad delete mode %q", mode)
	}
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, collection)
	if err := s.failDelete[collection]; err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	soft := gorm.DeletedAt{Time: now, Valid: true}
	var n int64
	for _, id := range ids {
		switch collection {
		case "plan":
			if p, ok := s.plans[id]; ok && live(p.DeletedAt) {
				n++
				if mode == store.DeleteSoft {
					p.DeletedAt = soft
				} else {
					delete(s.plans, id)
				}
			}
		case "module":
			if m, ok := s.modules[id]; ok && live(m.DeletedAt) {
				n++
				if mode == store.DeleteSoft {
					m.DeletedAt = soft
				} else {
					delete(s.modules, id)
				}
			}
		case "topic":
			if t, ok := s.topics[id]; ok && live(t.DeletedAt) {
				n++
				if mode == store.DeleteSoft {
					t.DeletedAt = soft
				} else {
					delete(s.topics, id)
				}
			}
		case "content_unit":
			if u, ok := s.units[id]; ok && live(u.DeletedAt) {
				n++
				if mode == store.DeleteSoft {
					u.DeletedAt = soft
				} else {
					delete(s.units, id)
				}
			}
		case "virtual_module":
			if _, ok := s.vms[id]; ok {
				n++
				delete(s.vms, id)
			}
		case "virtual_topic":
			if _, ok := s.vts[id]; ok {
				n++
				delete(s.vts, id)
			}
		case "virtual_content_unit":
			if _, ok := s.vcus[id]; ok {
				n++
				delete(s.vcus, id)
			}
		case "generation_task":
			if _, ok := s.tasks[id]; ok {
				n++
				delete(s.tasks, id)
				delete(s.taskSeq, id)
			}
		}
	}
	return n, nil
}
