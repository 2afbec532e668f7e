// Package virtualize turns authored topics into per-learner virtual copies.
package virtualize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/readiness"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/synth"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeExisting  Outcome = "existing"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRefreshed Outcome = "refreshed"
)

type EngineDeps struct {
	Log       *logger.Logger
	Repos     repos.Set
	Readiness *readiness.Evaluator
	Synth     synth.ContentSynthesizer
	// Concurrency bounds parallel Personalize calls per topic.
	Concurrency int
}

type Engine struct {
	log         *logger.Logger
	repos       repos.Set
	readiness   *readiness.Evaluator
	synth       synth.ContentSynthesizer
	concurrency int
}

func New(deps EngineDeps) *Engine {
	if deps.Synth == nil {
		deps.Synth = synth.NewPassthrough()
	}
	if deps.Readiness == nil {
		deps.Readiness = readiness.New(deps.Repos.Curriculum)
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	return &Engine{
		log:         deps.Log.With("component", "VirtualizationEngine"),
		repos:       deps.Repos,
		readiness:   deps.Readiness,
		synth:       deps.Synth,
		concurrency: deps.Concurrency,
	}
}

// EnsureModule returns the learner's virtual module, creating it with status
// when absent. An existing pending module is promoted when status is active.
func (e *Engine) EnsureModule(ctx context.Context, learnerID, moduleID uuid.UUID, status string) (*types.VirtualModule, bool, error) {
	dbc := dbctx.New(ctx)
	existing, err := e.repos.VirtualModules.GetByLearnerModule(dbc, learnerID, moduleID)
	if err != nil {
		return nil, false, fmt.Errorf("load virtual module: %w", err)
	}
	if existing != nil {
		if status == types.ModuleStatusActive && existing.Status == types.ModuleStatusPending {
			if err := e.repos.VirtualModules.UpdateStatus(dbc, existing.ID, types.ModuleStatusActive); err != nil {
				return nil, false, fmt.Errorf("activate virtual module: %w", err)
			}
			existing.Status = types.ModuleStatusActive
			if err := e.unlockFirst(dbc, learnerID, moduleID); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}

	module, err := e.repos.Curriculum.GetModule(dbc, moduleID)
	if err != nil {
		return nil, false, fmt.Errorf("load module: %w", err)
	}
	if module == nil {
		return nil, false, errs.NotFound("module", moduleID)
	}
	if status == "" {
		status = types.ModuleStatusActive
	}
	vm := &types.VirtualModule{
		ID:        VirtualModuleID(learnerID, moduleID),
		LearnerID: learnerID,
		ModuleID:  moduleID,
		PlanID:    module.PlanID,
		Status:    status,
	}
	if err := e.repos.Store.Insert(dbc, vm); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost the race to another caller
			again, gerr := e.repos.VirtualModules.GetByLearnerModule(dbc, learnerID, moduleID)
			if gerr != nil {
				return nil, false, fmt.Errorf("reload virtual module: %w", gerr)
			}
			if again != nil {
				return again, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert virtual module: %w", err)
	}
	e.log.Debug("Virtual module created", "learner_id", learnerID, "module_id", moduleID, "status", status)
	return vm, true, nil
}

// Materialize creates the learner's virtual copy of a topic. The virtual topic
// row is written last, so its presence implies every unit is in place.
func (e *Engine) Materialize(ctx context.Context, learnerID, topicID uuid.UUID) (vt *types.VirtualTopic, outcome Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.materialize",
		attribute.String("topic_id", topicID.String()),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dbc := dbctx.New(ctx)
	topic, err := e.repos.Curriculum.GetTopic(dbc, topicID)
	if err != nil {
		return nil, "", fmt.Errorf("load topic: %w", err)
	}
	if topic == nil {
		return nil, "", errs.NotFound("topic", topicID)
	}

	existing, err := e.repos.VirtualTopics.GetByLearnerTopic(dbc, learnerID, topicID)
	if err != nil {
		return nil, "", fmt.Errorf("load virtual topic: %w", err)
	}
	if existing != nil {
		return existing, OutcomeExisting, nil
	}

	ready, err := e.readiness.IsTopicReady(ctx, topicID)
	if err != nil {
		return nil, "", err
	}
	if !ready.Ready {
		return nil, OutcomeSkipped, fmt.Errorf("topic %s missing %v: %w", topicID, ready.Missing, errs.ErrReadinessNotMet)
	}

	// pending unless the learner already entered the module
	vm, _, err := e.EnsureModule(ctx, learnerID, topic.ModuleID, types.ModuleStatusPending)
	if err != nil {
		return nil, "", err
	}
	lock, err := e.lockFor(dbc, learnerID, vm, topic)
	if err != nil {
		return nil, "", err
	}

	units, err := e.repos.Curriculum.ListContentUnits(dbc, topicID)
	if err != nil {
		return nil, "", fmt.Errorf("load content units: %w", err)
	}
	payloads, err := e.personalize(ctx, units, synth.LearnerProfile{LearnerID: learnerID})
	if err != nil {
		return nil, "", err
	}

	vtID := VirtualTopicID(learnerID, topicID)
	for i, u := range units {
		if err := e.insertUnit(dbc, learnerID, vtID, u, payloads[i]); err != nil {
			return nil, "", err
		}
	}

	vt = &types.VirtualTopic{
		ID:              vtID,
		LearnerID:       learnerID,
		TopicID:         topicID,
		VirtualModuleID: vm.ID,
		ModuleID:        topic.ModuleID,
		Order:           topic.Order,
		Lock:            lock,
	}
	if err := e.repos.Store.Insert(dbc, vt); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			again, gerr := e.repos.VirtualTopics.GetByLearnerTopic(dbc, learnerID, topicID)
			if gerr == nil && again != nil {
				return again, OutcomeExisting, nil
			}
		}
		return nil, "", fmt.Errorf("insert virtual topic: %w", err)
	}
	e.log.Info("Topic materialized",
		"learner_id", learnerID,
		"topic_id", topicID,
		"units", len(units),
		"lock", lock,
	)
	return vt, OutcomeCreated, nil
}

// Refresh re-personalizes the incomplete units of an existing virtual topic and
// adds units authored since it was materialized. Completed units are left alone.
func (e *Engine) Refresh(ctx context.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.refresh",
		attribute.String("topic_id", topicID.String()),
	)
	defer span.End()

	dbc := dbctx.New(ctx)
	vt, err := e.repos.VirtualTopics.GetByLearnerTopic(dbc, learnerID, topicID)
	if err != nil {
		return nil, "", fmt.Errorf("load virtual topic: %w", err)
	}
	if vt == nil {
		return nil, OutcomeSkipped, nil
	}
	ready, err := e.readiness.IsTopicReady(ctx, topicID)
	if err != nil {
		return nil, "", err
	}
	if !ready.Ready {
		// keep serving the last good copy
		return vt, OutcomeSkipped, fmt.Errorf("topic %s missing %v: %w", topicID, ready.Missing, errs.ErrReadinessNotMet)
	}

	units, err := e.repos.Curriculum.ListContentUnits(dbc, topicID)
	if err != nil {
		return nil, "", fmt.Errorf("load content units: %w", err)
	}
	current, err := e.repos.VirtualUnits.ListByVirtualTopic(dbc, vt.ID)
	if err != nil {
		return nil, "", fmt.Errorf("load virtual units: %w", err)
	}
	byUnit := make(map[uuid.UUID]*types.VirtualContentUnit, len(current))
	for _, c := range current {
		byUnit[c.ContentUnitID] = c
	}

	stale := make([]*types.ContentUnit, 0, len(units))
	for _, u := range units {
		if c, ok := byUnit[u.ID]; ok && c.Completed {
			continue
		}
		stale = append(stale, u)
	}
	payloads, err := e.personalize(ctx, stale, synth.LearnerProfile{LearnerID: learnerID})
	if err != nil {
		return nil, "", err
	}
	added := 0
	for i, u := range stale {
		if c, ok := byUnit[u.ID]; ok {
			if err := e.repos.VirtualUnits.UpdatePayload(dbc, c.ID, payloads[i]); err != nil {
				return nil, "", fmt.Errorf("update virtual unit: %w", err)
			}
			continue
		}
		if err := e.insertUnit(dbc, learnerID, vt.ID, u, payloads[i]); err != nil {
			return nil, "", err
		}
		added++
	}

	if added > 0 {
		completed := 0
		for _, c := range current {
			if c.Completed {
				completed++
			}
		}
		pct := percent(completed, len(current)+added)
		var completedAt *time.Time
		if pct >= 100 {
			completedAt = vt.CompletedAt
		}
		if err := e.repos.VirtualTopics.UpdateProgress(dbc, vt.ID, pct, completedAt); err != nil {
			return nil, "", fmt.Errorf("update virtual topic progress: %w", err)
		}
		vt.Progress = pct
		vt.CompletedAt = completedAt
	}
	e.log.Info("Topic refreshed", "learner_id", learnerID, "topic_id", topicID, "units", len(stale), "added", added)
	return vt, OutcomeRefreshed, nil
}

// lockFor unlocks a topic only when every earlier topic of its module has a
// completed virtual topic. The first topic is unlocked too, unless the module
// was primed ahead while the learner is still working in another module.
func (e *Engine) lockFor(dbc dbctx.Context, learnerID uuid.UUID, vm *types.VirtualModule, topic *types.Topic) (string, error) {
	topics, err := e.repos.Curriculum.ListTopics(dbc, topic.ModuleID)
	if err != nil {
		return "", fmt.Errorf("load topics: %w", err)
	}
	for _, t := range topics {
		if t.ID == topic.ID {
			break
		}
		prev, err := e.repos.VirtualTopics.GetByLearnerTopic(dbc, learnerID, t.ID)
		if err != nil {
			return "", fmt.Errorf("load virtual topic: %w", err)
		}
		if !prev.Completed() {
			return types.LockLocked, nil
		}
	}
	if vm.Status != types.ModuleStatusPending {
		return types.LockUnlocked, nil
	}
	others, err := e.repos.VirtualModules.ListByLearner(dbc, learnerID)
	if err != nil {
		return "", fmt.Errorf("load virtual modules: %w", err)
	}
	for _, o := range others {
		if o.ID != vm.ID && o.PlanID == vm.PlanID && o.Status == types.ModuleStatusActive {
			return types.LockLocked, nil
		}
	}
	return types.LockUnlocked, nil
}

// unlockFirst opens the first topic of a module the learner just entered, if
// it was materialized while the module was still pending.
func (e *Engine) unlockFirst(dbc dbctx.Context, learnerID, moduleID uuid.UUID) error {
	topics, err := e.repos.Curriculum.ListTopics(dbc, moduleID)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	if len(topics) == 0 {
		return nil
	}
	vt, err := e.repos.VirtualTopics.GetByLearnerTopic(dbc, learnerID, topics[0].ID)
	if err != nil {
		return fmt.Errorf("load virtual topic: %w", err)
	}
	if vt == nil || vt.Lock != types.LockLocked {
		return nil
	}
	if err := e.repos.VirtualTopics.UpdateLock(dbc, vt.ID, types.LockUnlocked); err != nil {
		return fmt.Errorf("unlock virtual topic: %w", err)
	}
	e.log.Debug("First topic unlocked", "learner_id", learnerID, "module_id", moduleID, "virtual_topic_id", vt.ID)
	return nil
}

func (e *Engine) insertUnit(dbc dbctx.Context, learnerID, vtID uuid.UUID, u *types.ContentUnit, payload datatypes.JSON) error {
	vcu := &types.VirtualContentUnit{
		ID:             VirtualContentUnitID(vtID, u.ID),
		VirtualTopicID: vtID,
		ContentUnitID:  u.ID,
		LearnerID:      learnerID,
		Order:          u.Order,
		Payload:        payload,
	}
	if err := e.repos.Store.Insert(dbc, vcu); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("insert virtual content unit: %w", err)
	}
	return nil
}

func (e *Engine) personalize(ctx context.Context, units []*types.ContentUnit, profile synth.LearnerProfile) ([]datatypes.JSON, error) {
	out := make([]datatypes.JSON, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			payload, err := e.synth.Personalize(gctx, u, profile)
			if err != nil {
				return fmt.Errorf("personalize unit %s: %w", u.ID, err)
			}
			out[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var ge *errs.GenerationError
		if errors.As(err, &ge) {
			return nil, err
		}
		return nil, errs.Retryable(err)
	}
	return out, nil
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) * 100 / float64(total)
}
