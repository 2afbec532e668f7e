// Package memstore is an in-process implementation of every repository the
// lifecycle core consumes. It backs STORE_DRIVER=memory and the lifecycle tests.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/curriculum"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/virtual"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	plans   map[uuid.UUID]*types.Plan
	modules map[uuid.UUID]*types.Module
	topics  map[uuid.UUID]*types.Topic
	units   map[uuid.UUID]*types.ContentUnit

	vms  map[uuid.UUID]*types.VirtualModule
	vts  map[uuid.UUID]*types.VirtualTopic
	vcus map[uuid.UUID]*types.VirtualContentUnit

	tasks   map[uuid.UUID]*types.GenerationTask
	taskSeq map[uuid.UUID]int64
	seq     int64

	failDelete map[string]error
	failInsert map[string]error
	deletes    []string
}

func New() *Store {
	return &Store{
		plans:      map[uuid.UUID]*types.Plan{},
		modules:    map[uuid.UUID]*types.Module{},
		topics:     map[uuid.UUID]*types.Topic{},
		units:      map[uuid.UUID]*types.ContentUnit{},
		vms:        map[uuid.UUID]*types.VirtualModule{},
		vts:        map[uuid.UUID]*types.VirtualTopic{},
		vcus:       map[uuid.UUID]*types.VirtualContentUnit{},
		tasks:      map[uuid.UUID]*types.GenerationTask{},
		taskSeq:    map[uuid.UUID]int64{},
		failDelete: map[string]error{},
		failInsert: map[string]error{},
	}
}

func (s *Store) Curriculum() curriculum.CurriculumRepo        { return curriculumView{s} }
func (s *Store) VirtualModules() virtual.VirtualModuleRepo    { return moduleView{s} }
func (s *Store) VirtualTopics() virtual.VirtualTopicRepo      { return topicView{s} }
func (s *Store) VirtualUnits() virtual.VirtualContentUnitRepo { return unitView{s} }
func (s *Store) Tasks() jobs.GenerationTaskRepo               { return taskView{s} }
func (s *Store) Generic() store.GenericStore                  { return genericView{s} }

// Set exposes the store through the same bundle the gorm repositories use.
func (s *Store) Set() repos.Set {
	return repos.Set{
		Curriculum:     s.Curriculum(),
		VirtualModules: s.VirtualModules(),
		VirtualTopics:  s.VirtualTopics(),
		VirtualUnits:   s.VirtualUnits(),
		Tasks:          s.Tasks(),
		Store:          s.Generic(),
	}
}

// FailDeletes makes DeleteMany on collection return err until cleared with nil.
func (s *Store) FailDeletes(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failDelete, collection)
		return
	}
	s.failDelete[collection] = err
}

// FailInserts makes Insert into collection return err until cleared with nil.
func (s *Store) FailInserts(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failInsert, collection)
		return
	}
	s.failInsert[collection] = err
}

// DeleteLog lists the collections passed to DeleteMany, in call order.
func (s *Store) DeleteLog() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.deletes))
	copy(out, s.deletes)
	return out
}

// Count returns the number of live records in collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rowsLocked(collection))
}

// =========================
// Seeding
// =========================

func (s *Store) AddPlan(p *types.Plan) *types.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	cp := *p
	s.plans[p.ID] = &cp
	return p
}

func (s *Store) AddModule(m *types.Module) *types.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	stamp(&m.CreatedAt, &m.UpdatedAt)
	cp := *m
	s.modules[m.ID] = &cp
	return m
}

func (s *Store) AddTopic(t *types.Topic) *types.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	stamp(&t.CreatedAt, &t.UpdatedAt)
	cp := *t
	s.topics[t.ID] = &cp
	return t
}

func (s *Store) AddContentUnit(u *types.ContentUnit) *types.ContentUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stamp(&u.CreatedAt, &u.UpdatedAt)
	cp := *u
	s.units[u.ID] = &cp
	return u
}

// SetTopicUnits replaces the content units of a topic.
func (s *Store) SetTopicUnits(topicID uuid.UUID, units ...*types.ContentUnit) {
	s.mu.Lock()
	for id, u := range s.units {
		if u.TopicID == topicID {
			delete(s.units, id)
		}
	}
	s.mu.Unlock()
	for _, u := range units {
		u.TopicID = topicID
		s.AddContentUnit(u)
	}
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func live(d gorm.DeletedAt) bool { return !d.Valid }

// =========================
// Generic rows
// =========================

type row struct {
	id     uuid.UUID
	fields map[string]uuid.UUID
}

func (s *Store) rowsLocked(collection string) []row {
	out := []row{}
	switch collection {
	case "plan":
		for _, p := range s.plans {
			if live(p.DeletedAt) {
				out = append(out, row{id: p.ID, fields: map[string]uuid.UUID{"id": p.ID}})
			}
		}
	case "module":
		for _, m := range s.modules {
			if live(m.DeletedAt) {
				out = append(out, row{id: m.ID, fields: map[string]uuid.UUID{"id": m.ID, "plan_id": m.PlanID}})
			}
		}
	case "topic":
		for _, t := range s.topics {
			if live(t.DeletedAt) {
				out = append(out, row{id: t.ID, fields: map[string]uuid.UUID{"id": t.ID, "module_id": t.ModuleID}})
			}
		}
	case "content_unit":
		for _, u := range s.units {
			if live(u.DeletedAt) {
				out = append(out, row{id: u.ID, fields: map[string]uuid.UUID{"id": u.ID, "topic_id": u.TopicID}})
			}
		}
	case "virtual_module":
		for _, v := range s.vms {
			out = append(out, row{id: v.ID, fields: map[string]uuid.UUID{
				"id": v.ID, "module_id": v.ModuleID, "learner_id": v.LearnerID, "plan_id": v.PlanID,
			}})
		}
	case "virtual_topic":
		for _, v := range s.vts {
			out = append(out, row{id: v.ID, fields: map[string]uuid.UUID{
				"id": v.ID, "topic_id": v.TopicID, "virtual_module_id": v.VirtualModuleID,
				"learner_id": v.LearnerID, "module_id": v.ModuleID,
			}})
		}
	case "virtual_content_unit":
		for _, v := range s.vcus {
			out = append(out, row{id: v.ID, fields: map[string]uuid.UUID{
				"id": v.ID, "virtual_topic_id": v.VirtualTopicID, "content_unit_id": v.ContentUnitID,
				"learner_id": v.LearnerID,
			}})
		}
	case "generation_task":
		for _, t := range s.tasks {
			out = append(out, row{id: t.ID, fields: map[string]uuid.UUID{
				"id": t.ID, "topic_id": t.TopicID, "module_id": t.ModuleID, "learner_id": t.LearnerID,
			}})
		}
	}
	return out
}

func knownCollection(name string) bool {
	switch name {
	case "plan", "module", "topic", "content_unit",
		"virtual_module", "virtual_topic", "virtual_content_unit", "generation_task":
		return true
	}
	return false
}

func sortTopics(in []*types.Topic) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Order != in[j].Order {
			return in[i].Order < in[j].Order
		}
		return in[i].CreatedAt.Before(in[j].CreatedAt)
	})
}
