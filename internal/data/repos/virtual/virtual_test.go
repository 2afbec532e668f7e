package virtual

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
)

func TestVirtualRepos(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)
	vmRepo := NewVirtualModuleRepo(db, log)
	vtRepo := NewVirtualTopicRepo(db, log)
	vcuRepo := NewVirtualContentUnitRepo(db, log)

	now := time.Now().UTC()
	learner := uuid.New()
	vm := &types.VirtualModule{
		ID: uuid.New(), LearnerID: learner, ModuleID: uuid.New(), PlanID: uuid.New(),
		Status: types.ModuleStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	vt := &types.VirtualTopic{
		ID: uuid.New(), LearnerID: learner, TopicID: uuid.New(), VirtualModuleID: vm.ID, ModuleID: vm.ModuleID,
		Lock: types.LockLocked, CreatedAt: now, UpdatedAt: now,
	}
	vcu := &types.VirtualContentUnit{
		ID: uuid.New(), VirtualTopicID: vt.ID, ContentUnitID: uuid.New(), LearnerID: learner,
		CreatedAt: now, UpdatedAt: now,
	}
	for _, rec := range []interface{}{vm, vt, vcu} {
		if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
			t.Fatalf("seed %T: %v", rec, err)
		}
	}

	if got, err := vmRepo.GetByLearnerModule(dbc, learner, vm.ModuleID); err != nil || got == nil || got.ID != vm.ID {
		t.Fatalf("GetByLearnerModule: err=%v got=%v", err, got)
	}
	if err := vmRepo.UpdateProgress(dbc, vm.ID, 50, types.ModuleStatusActive, nil); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if got, _ := vmRepo.GetByID(dbc, vm.ID); got == nil || got.Status != types.ModuleStatusActive || got.Progress != 50 {
		t.Fatalf("UpdateProgress: unexpected row %+v", got)
	}

	if err := vtRepo.UpdateLock(dbc, vt.ID, types.LockUnlocked); err != nil {
		t.Fatalf("UpdateLock: %v", err)
	}
	if rows, err := vtRepo.ListByVirtualModule(dbc, vm.ID); err != nil || len(rows) != 1 || rows[0].Lock != types.LockUnlocked {
		t.Fatalf("ListByVirtualModule: err=%v rows=%v", err, rows)
	}

	changed, err := vcuRepo.MarkCompleted(dbc, vcu.ID, 0.9, now)
	if err != nil || !changed {
		t.Fatalf("MarkCompleted: changed=%v err=%v", changed, err)
	}
	if changed, _ := vcuRepo.MarkCompleted(dbc, vcu.ID, 0.1, now); changed {
		t.Fatalf("MarkCompleted twice: expected no change")
	}
	if got, _ := vcuRepo.GetByID(dbc, vcu.ID); got == nil || !got.Completed || got.Score == nil || *got.Score != 0.9 {
		t.Fatalf("GetByID: unexpected row %+v", got)
	}
}
