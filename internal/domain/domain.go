package domain

import (
	"github.com/yungbote/neurobridge-lifecycle/internal/domain/curriculum"
	"github.com/yungbote/neurobridge-lifecycle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-lifecycle/internal/domain/virtual"
)

const (
	TagEvaluative       = curriculum.TagEvaluative
	TagCriticalThinking = curriculum.TagCriticalThinking
	TagInteractive      = curriculum.TagInteractive

	ModuleStatusPending   = virtual.ModuleStatusPending
	ModuleStatusActive    = virtual.ModuleStatusActive
	ModuleStatusCompleted = virtual.ModuleStatusCompleted
	LockLocked            = virtual.LockLocked
	LockUnlocked          = virtual.LockUnlocked

	TaskKindGenerate   = jobs.TaskKindGenerate
	TaskKindUpdate     = jobs.TaskKindUpdate
	TaskStatusQueued   = jobs.TaskStatusQueued
	TaskStatusRunning  = jobs.TaskStatusRunning
	TaskStatusDone     = jobs.TaskStatusDone
	TaskStatusFailed   = jobs.TaskStatusFailed
	PriorityLow        = jobs.PriorityLow
	PriorityBackground = jobs.PriorityBackground
	PriorityImmediate  = jobs.PriorityImmediate
)

type (
	Plan        = curriculum.Plan
	Module      = curriculum.Module
	Topic       = curriculum.Topic
	ContentUnit = curriculum.ContentUnit

	VirtualModule      = virtual.VirtualModule
	VirtualTopic       = virtual.VirtualTopic
	VirtualContentUnit = virtual.VirtualContentUnit

	GenerationTask = jobs.GenerationTask
)

var IdempotencyKey = jobs.IdempotencyKey
