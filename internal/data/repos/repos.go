package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/db"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/curriculum"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/virtual"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type CurriculumRepo = curriculum.CurriculumRepo

type VirtualModuleRepo = virtual.VirtualModuleRepo
type VirtualTopicRepo = virtual.VirtualTopicRepo
type VirtualContentUnitRepo = virtual.VirtualContentUnitRepo

type GenerationTaskRepo = jobs.GenerationTaskRepo

type GenericStore = store.GenericStore

// Set bundles every repository the lifecycle core reads or writes.
type Set struct {
	Curriculum     CurriculumRepo
	VirtualModules VirtualModuleRepo
	VirtualTopics  VirtualTopicRepo
	VirtualUnits   VirtualContentUnitRepo
	Tasks          GenerationTaskRepo
	Store          GenericStore
}

func NewCurriculumRepo(db *gorm.DB, baseLog *logger.Logger) CurriculumRepo {
	return curriculum.NewCurriculumRepo(db, baseLog)
}

func NewVirtualModuleRepo(db *gorm.DB, baseLog *logger.Logger) VirtualModuleRepo {
	return virtual.NewVirtualModuleRepo(db, baseLog)
}
func NewVirtualTopicRepo(db *gorm.DB, baseLog *logger.Logger) VirtualTopicRepo {
	return virtual.NewVirtualTopicRepo(db, baseLog)
}
func NewVirtualContentUnitRepo(db *gorm.DB, baseLog *logger.Logger) VirtualContentUnitRepo {
	return virtual.NewVirtualContentUnitRepo(db, baseLog)
}

func NewGenerationTaskRepo(db *gorm.DB, baseLog *logger.Logger) GenerationTaskRepo {
	return jobs.NewGenerationTaskRepo(db, baseLog)
}

func NewGenericStore(gdb *gorm.DB, baseLog *logger.Logger) GenericStore {
	return store.NewGenericStore(gdb, baseLog, db.Models()...)
}

// NewSet wires the gorm-backed repositories.
func NewSet(gdb *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Curriculum:     NewCurriculumRepo(gdb, baseLog),
		VirtualModules: NewVirtualModuleRepo(gdb, baseLog),
		VirtualTopics:  NewVirtualTopicRepo(gdb, baseLog),
		VirtualUnits:   NewVirtualContentUnitRepo(gdb, baseLog),
		Tasks:          NewGenerationTaskRepo(gdb, baseLog),
		Store:          NewGenericStore(gdb, baseLog),
	}
}
