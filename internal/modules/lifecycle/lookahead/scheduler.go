// Package lookahead keeps a learner's virtual content a fixed number of topics
// ahead of where they are. The scheduler keeps no per-learner state: every
// evaluation is derived from the store and the queue.
package lookahead

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/readiness"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type State string

const (
	StateNotStarted State = "not_started"
	StatePriming    State = "priming"
	StateSteady     State = "steady"
	StateDraining   State = "draining"
	StateExhausted  State = "exhausted"
)

// ModuleEnsurer creates virtual modules. The virtualization engine implements it.
type ModuleEnsurer interface {
	EnsureModule(ctx context.Context, learnerID, moduleID uuid.UUID, status string) (*types.VirtualModule, bool, error)
}

type Notifier interface {
	WaitingForAuthor(ctx context.Context, learnerID, moduleID uuid.UUID)
}

type Deps struct {
	Log       *logger.Logger
	Repos     repos.Set
	Readiness *readiness.Evaluator
	Modules   ModuleEnsurer
	Queue     services.GenerationQueue
	Notify    Notifier
	Config    Config
}

type Scheduler struct {
	log       *logger.Logger
	repos     repos.Set
	readiness *readiness.Evaluator
	modules   ModuleEnsurer
	queue     services.GenerationQueue
	notify    Notifier
	cfg       Config
}

func New(deps Deps) *Scheduler {
	if deps.Readiness == nil {
		deps.Readiness = readiness.New(deps.Repos.Curriculum)
	}
	return &Scheduler{
		log:       deps.Log.With("component", "LookaheadScheduler"),
		repos:     deps.Repos,
		readiness: deps.Readiness,
		modules:   deps.Modules,
		queue:     deps.Queue,
		notify:    deps.Notify,
		cfg:       deps.Config.withDefaults(),
	}
}

func (s *Scheduler) Config() Config { return s.cfg }

// Enqueued is a generate request the scheduler issued (or, for Status, would issue).
type Enqueued struct {
	TaskID   uuid.UUID `json:"task_id,omitempty"`
	ModuleID uuid.UUID `json:"module_id"`
	TopicID  uuid.UUID `json:"topic_id"`
	Order    int       `json:"order"`
	Priority int       `json:"priority"`
	Created  bool      `json:"created"`
}

type Status struct {
	LearnerID        uuid.UUID  `json:"learner_id"`
	ModuleID         uuid.UUID  `json:"module_id"`
	State            State      `json:"state"`
	PositionTopicID  uuid.UUID  `json:"position_topic_id,omitempty"`
	EffectiveTopicID uuid.UUID  `json:"effective_topic_id,omitempty"`
	Ahead            int        `json:"ahead"`
	Deficit          int        `json:"deficit"`
	WaitingForAuthor bool       `json:"waiting_for_author"`
	Enqueued         []Enqueued `json:"enqueued"`
	// Raised lists queued tasks whose priority was (or, for Status, would be)
	// restored after the learner returned.
	Raised        []Enqueued  `json:"raised,omitempty"`
	PrimedModules []uuid.UUID `json:"primed_modules,omitempty"`
}

// Reconcile brings the (learner, module) buffer back to depth, enqueuing
// generate tasks for whatever is missing.
func (s *Scheduler) Reconcile(ctx context.Context, learnerID, moduleID uuid.UUID) (*Status, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.reconcile",
		attribute.String("module_id", moduleID.String()),
	)
	defer span.End()

	st, err := s.evaluate(ctx, learnerID, moduleID, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("state", string(st.State)),
		attribute.Int("enqueued", len(st.Enqueued)),
		attribute.Int("raised", len(st.Raised)),
	)
	observability.Current().ObserveLookahead(string(st.State), st.WaitingForAuthor)
	if st.WaitingForAuthor && s.notify != nil {
		s.notify.WaitingForAuthor(ctx, learnerID, moduleID)
	}
	s.log.Info("Lookahead reconciled",
		"learner_id", learnerID,
		"module_id", moduleID,
		"state", st.State,
		"ahead", st.Ahead,
		"enqueued", len(st.Enqueued),
		"raised", len(st.Raised),
		"waiting_for_author", st.WaitingForAuthor,
	)
	return st, nil
}

// Status reports the same evaluation as Reconcile without writing anything.
// Enqueued lists what a reconcile would request.
func (s *Scheduler) Status(ctx context.Context, learnerID, moduleID uuid.UUID) (*Status, error) {
	return s.evaluate(ctx, learnerID, moduleID, false)
}

// PrimeNextModule starts the next qualifying module inside the window with its
// first topic.
func (s *Scheduler) PrimeNextModule(ctx context.Context, learnerID, moduleID uuid.UUID) (*Status, error) {
	dbc := dbctx.New(ctx)
	module, err := s.repos.Curriculum.GetModule(dbc, moduleID)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}
	if module == nil {
		return nil, errs.NotFound("module", moduleID)
	}
	st := &Status{LearnerID: learnerID, ModuleID: moduleID, State: StateDraining, Enqueued: []Enqueued{}}
	qualified, left, err := s.spill(ctx, dbc, module, learnerID, 1, true, st)
	if err != nil {
		return nil, err
	}
	st.Deficit = 1
	st.WaitingForAuthor = !qualified || left > 0
	if err := s.apply(dbc, learnerID, st); err != nil {
		return nil, err
	}
	s.log.Info("Next module primed",
		"learner_id", learnerID,
		"module_id", moduleID,
		"primed", len(st.PrimedModules),
		"enqueued", len(st.Enqueued),
	)
	return st, nil
}

func (s *Scheduler) evaluate(ctx context.Context, learnerID, moduleID uuid.UUID, apply bool) (*Status, error) {
	dbc := dbctx.New(ctx)
	module, err := s.repos.Curriculum.GetModule(dbc, moduleID)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}
	if module == nil {
		return nil, errs.NotFound("module", moduleID)
	}
	st := &Status{LearnerID: learnerID, ModuleID: moduleID, Enqueued: []Enqueued{}}

	vm, err := s.repos.VirtualModules.GetByLearnerModule(dbc, learnerID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("load virtual module: %w", err)
	}
	priming := false
	if vm == nil {
		if !apply {
			st.State = StateNotStarted
			st.Deficit = s.cfg.TopicBuffer
			return st, nil
		}
		if vm, _, err = s.modules.EnsureModule(ctx, learnerID, moduleID, types.ModuleStatusActive); err != nil {
			return nil, err
		}
		priming = true
	} else if apply && vm.Status == types.ModuleStatusPending {
		if vm, _, err = s.modules.EnsureModule(ctx, learnerID, moduleID, types.ModuleStatusActive); err != nil {
			return nil, err
		}
	}

	topics, err := s.repos.Curriculum.ListTopics(dbc, moduleID)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	byTopic, err := s.virtualTopics(dbc, vm)
	if err != nil {
		return nil, err
	}
	if len(byTopic) == 0 {
		priming = true
	}
	covered, queued, err := s.coverage(dbc, learnerID, moduleID, byTopic)
	if err != nil {
		return nil, err
	}

	pos := len(topics)
	for i, t := range topics {
		if vt := byTopic[t.ID]; vt == nil || !vt.Completed() {
			pos = i
			break
		}
	}
	eff := pos
	if pos < len(topics) {
		st.PositionTopicID = topics[pos].ID
		if vt := byTopic[topics[pos].ID]; vt != nil && vt.Progress >= s.cfg.AdvancePct {
			eff = pos + 1
		}
	}

	blocked := false
	immediate := 0
	if eff < len(topics) {
		t := topics[eff]
		st.EffectiveTopicID = t.ID
		if !covered[t.ID] {
			ready, err := s.topicReady(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			if ready {
				st.Enqueued = append(st.Enqueued, Enqueued{ModuleID: moduleID, TopicID: t.ID, Order: t.Order, Priority: types.PriorityImmediate})
				immediate++
			} else {
				blocked = true
			}
		} else if task := queued[t.ID]; task != nil && task.Priority < types.PriorityImmediate {
			st.Raised = append(st.Raised, Enqueued{TaskID: task.ID, ModuleID: moduleID, TopicID: t.ID, Order: t.Order, Priority: types.PriorityImmediate})
		}
	}

	ahead := 0
	for i := eff + 1; i < len(topics); i++ {
		t := topics[i]
		if !covered[t.ID] {
			continue
		}
		ahead++
		if task := queued[t.ID]; task != nil && task.Priority < types.PriorityBackground {
			st.Raised = append(st.Raised, Enqueued{TaskID: task.ID, ModuleID: moduleID, TopicID: t.ID, Order: t.Order, Priority: types.PriorityBackground})
		}
	}
	need := s.cfg.TopicBuffer - ahead
	if need < 0 {
		need = 0
	}
	st.Ahead = ahead
	st.Deficit = need

	// walk the ready run in authored order; an unready topic ends it
	planned := 0
	for i := eff + 1; i < len(topics) && need > 0 && !blocked; i++ {
		t := topics[i]
		if covered[t.ID] {
			continue
		}
		ready, err := s.topicReady(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if !ready {
			break
		}
		st.Enqueued = append(st.Enqueued, Enqueued{ModuleID: moduleID, TopicID: t.ID, Order: t.Order, Priority: types.PriorityBackground})
		planned++
		need--
	}

	switch {
	case need == 0:
		st.State = StateSteady
	default:
		qualified, left, err := s.spill(ctx, dbc, module, learnerID, need, apply, st)
		if err != nil {
			return nil, err
		}
		need = left
		if qualified || ahead+planned+immediate > 0 {
			st.State = StateDraining
		} else {
			st.State = StateExhausted
		}
	}
	if priming {
		st.State = StatePriming
	}
	st.WaitingForAuthor = need > 0

	if apply {
		if err := s.apply(dbc, learnerID, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// spill carries the remaining deficit into the following modules of the plan,
// stopping at the window edge or the first module that is not ready.
func (s *Scheduler) spill(ctx context.Context, dbc dbctx.Context, module *types.Module, learnerID uuid.UUID, need int, apply bool, st *Status) (bool, int, error) {
	if s.cfg.ModuleWindow < 2 || need <= 0 {
		return false, need, nil
	}
	modules, err := s.repos.Curriculum.ListModules(dbc, module.PlanID)
	if err != nil {
		return false, need, fmt.Errorf("load modules: %w", err)
	}
	idx := -1
	for i, m := range modules {
		if m.ID == module.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, need, nil
	}

	qualified := false
	for i := idx + 1; i < len(modules) && i < idx+s.cfg.ModuleWindow && need > 0; i++ {
		next := modules[i]
		res, err := s.readiness.IsModuleReady(ctx, next.ID)
		if err != nil {
			return false, need, err
		}
		if !res.Ready {
			break
		}
		qualified = true
		st.PrimedModules = append(st.PrimedModules, next.ID)

		vm, err := s.repos.VirtualModules.GetByLearnerModule(dbc, learnerID, next.ID)
		if err != nil {
			return false, need, fmt.Errorf("load virtual module: %w", err)
		}
		if vm == nil && apply {
			if vm, _, err = s.modules.EnsureModule(ctx, learnerID, next.ID, types.ModuleStatusPending); err != nil {
				return false, need, err
			}
		}
		byTopic, err := s.virtualTopics(dbc, vm)
		if err != nil {
			return false, need, err
		}
		covered, _, err := s.coverage(dbc, learnerID, next.ID, byTopic)
		if err != nil {
			return false, need, err
		}
		topics, err := s.repos.Curriculum.ListTopics(dbc, next.ID)
		if err != nil {
			return false, need, fmt.Errorf("load topics: %w", err)
		}
		for _, t := range topics {
			if need == 0 {
				break
			}
			need--
			if covered[t.ID] {
				continue
			}
			st.Enqueued = append(st.Enqueued, Enqueued{ModuleID: next.ID, TopicID: t.ID, Order: t.Order, Priority: types.PriorityBackground})
		}
	}
	return qualified, need, nil
}

func (s *Scheduler) apply(dbc dbctx.Context, learnerID uuid.UUID, st *Status) error {
	if err := s.enqueue(dbc, learnerID, st.Enqueued); err != nil {
		return err
	}
	// an enqueue on an active key raises the existing task instead of duplicating it
	return s.enqueue(dbc, learnerID, st.Raised)
}

func (s *Scheduler) enqueue(dbc dbctx.Context, learnerID uuid.UUID, reqs []Enqueued) error {
	for i := range reqs {
		e := &reqs[i]
		task, created, err := s.queue.Enqueue(dbc, services.EnqueueRequest{
			LearnerID: learnerID,
			ModuleID:  e.ModuleID,
			TopicID:   e.TopicID,
			Kind:      types.TaskKindGenerate,
			Priority:  e.Priority,
		})
		if err != nil {
			return fmt.Errorf("enqueue topic %s: %w", e.TopicID, err)
		}
		e.TaskID = task.ID
		e.Created = created
	}
	return nil
}

func (s *Scheduler) virtualTopics(dbc dbctx.Context, vm *types.VirtualModule) (map[uuid.UUID]*types.VirtualTopic, error) {
	out := map[uuid.UUID]*types.VirtualTopic{}
	if vm == nil {
		return out, nil
	}
	vts, err := s.repos.VirtualTopics.ListByVirtualModule(dbc, vm.ID)
	if err != nil {
		return nil, fmt.Errorf("load virtual topics: %w", err)
	}
	for _, vt := range vts {
		out[vt.TopicID] = vt
	}
	return out, nil
}

// coverage marks topics that already have a virtual topic or an active generate
// task, and returns the generate tasks still waiting in the queue by topic.
func (s *Scheduler) coverage(dbc dbctx.Context, learnerID, moduleID uuid.UUID, byTopic map[uuid.UUID]*types.VirtualTopic) (map[uuid.UUID]bool, map[uuid.UUID]*types.GenerationTask, error) {
	covered := make(map[uuid.UUID]bool, len(byTopic))
	for id := range byTopic {
		covered[id] = true
	}
	active, err := s.queue.ListActive(dbc, learnerID, moduleID)
	if err != nil {
		return nil, nil, fmt.Errorf("list active tasks: %w", err)
	}
	queued := map[uuid.UUID]*types.GenerationTask{}
	for _, t := range active {
		if t.Kind != types.TaskKindGenerate {
			continue
		}
		covered[t.TopicID] = true
		if t.Status == types.TaskStatusQueued {
			queued[t.TopicID] = t
		}
	}
	return covered, queued, nil
}

func (s *Scheduler) topicReady(ctx context.Context, topicID uuid.UUID) (bool, error) {
	res, err := s.readiness.IsTopicReady(ctx, topicID)
	if err != nil {
		return false, err
	}
	return res.Ready, nil
}
