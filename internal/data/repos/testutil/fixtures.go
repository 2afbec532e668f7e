package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
)

func SeedPlan(tb testing.TB, ctx context.Context, tx *gorm.DB) *types.Plan {
	tb.Helper()
	p := &types.Plan{ID: uuid.New(), Title: "plan", Status: "published"}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	return p
}

func SeedModule(tb testing.TB, ctx context.Context, tx *gorm.DB, planID uuid.UUID, order int) *types.Module {
	tb.Helper()
	m := &types.Module{ID: uuid.New(), PlanID: planID, Title: "module", Order: order, Ready: true}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed module: %v", err)
	}
	return m
}

func SeedTopic(tb testing.TB, ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, order int) *types.Topic {
	tb.Helper()
	t := &types.Topic{ID: uuid.New(), ModuleID: moduleID, Title: "topic", Order: order, Ready: true}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed topic: %v", err)
	}
	return t
}

// SeedReadyUnits gives a topic an evaluative, a critical-thinking and a plain
// unit, all interactive, so the topic passes readiness.
func SeedReadyUnits(tb testing.TB, ctx context.Context, tx *gorm.DB, topicID uuid.UUID) []*types.ContentUnit {
	tb.Helper()
	kinds := []string{types.TagEvaluative, types.TagCriticalThinking, "theory"}
	out := make([]*types.ContentUnit, 0, len(kinds))
	for i, kind := range kinds {
		u := &types.ContentUnit{
			ID:      uuid.New(),
			TopicID: topicID,
			Kind:    kind,
			Order:   i,
			Tags:    datatypes.JSONSlice[string]{kind, types.TagInteractive},
			Body:    datatypes.JSON([]byte(`{"text":"unit"}`)),
		}
		if err := tx.WithContext(ctx).Create(u).Error; err != nil {
			tb.Fatalf("seed content unit: %v", err)
		}
		out = append(out, u)
	}
	return out
}
