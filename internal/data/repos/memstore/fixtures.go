package memstore

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
)

// Fixture is a seeded plan. Topics[i] are the topics of Modules[i] in order.
type Fixture struct {
	Plan    *types.Plan
	Modules []*types.Module
	Topics  [][]*types.Topic
}

// Topic returns the n-th topic (1-based) of the m-th module (1-based).
func (f Fixture) Topic(m, n int) *types.Topic { return f.Topics[m-1][n-1] }

// SeedCurriculum creates one plan with a module per entry of topicsPerModule.
// Every topic gets content that passes readiness.
func (s *Store) SeedCurriculum(topicsPerModule ...int) Fixture {
	f := Fixture{Plan: s.AddPlan(&types.Plan{Title: "plan", Status: "published"})}
	for mi, n := range topicsPerModule {
		m := s.AddModule(&types.Module{
			PlanID: f.Plan.ID,
			Title:  fmt.Sprintf("module %d", mi+1),
			Order:  mi + 1,
			Ready:  true,
		})
		f.Modules = append(f.Modules, m)
		topics := make([]*types.Topic, 0, n)
		for ti := 0; ti < n; ti++ {
			t := s.AddTopic(&types.Topic{
				ModuleID: m.ID,
				Title:    fmt.Sprintf("topic %d.%d", mi+1, ti+1),
				Order:    ti + 1,
				Ready:    true,
			})
			s.SetTopicUnits(t.ID, ReadyUnits()...)
			topics = append(topics, t)
		}
		f.Topics = append(f.Topics, topics)
	}
	return f
}

// ReadyUnits returns fresh content units that satisfy every readiness rule.
func ReadyUnits() []*types.ContentUnit {
	return []*types.ContentUnit{
		unit(0, "theory", types.TagInteractive),
		unit(1, types.TagEvaluative, types.TagInteractive),
		unit(2, "practice", types.TagCriticalThinking, types.TagInteractive),
	}
}

// MakeUnready replaces a topic's content with a single non-interactive unit.
func (s *Store) MakeUnready(topicID uuid.UUID) {
	s.SetTopicUnits(topicID, unit(0, "theory"))
}

// MakeReady restores passing content for a topic.
func (s *Store) MakeReady(topicID uuid.UUID) {
	s.SetTopicUnits(topicID, ReadyUnits()...)
}

func unit(order int, kind string, tags ...string) *types.ContentUnit {
	return &types.ContentUnit{
		Kind:  kind,
		Title: kind,
		Order: order,
		Tags:  datatypes.JSONSlice[string](tags),
		Body:  datatypes.JSON([]byte(fmt.Sprintf(`{"kind":%q}`, kind))),
	}
}
