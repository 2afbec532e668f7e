package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/http/response"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/readiness"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// Lifecycle is the slice of lifecycle.Usecases the HTTP surface exposes.
type Lifecycle interface {
	OnLearnerEntersModule(ctx context.Context, learnerID, moduleID uuid.UUID) (*lifecycle.EnterResult, error)
	GetLookaheadStatus(ctx context.Context, learnerID, moduleID uuid.UUID) (*lifecycle.LookaheadStatus, error)
	OnContentCompleted(ctx context.Context, vcuID uuid.UUID, score float64) (*lifecycle.Progress, error)
	RequestDeletion(ctx context.Context, collection string, id uuid.UUID, dryRun bool) (*lifecycle.DeletionResult, error)
	PurgeLearner(ctx context.Context, learnerID uuid.UUID, dryRun bool) ([]*lifecycle.DeletionResult, error)
	OnTopicUpdated(ctx context.Context, topicID uuid.UUID) (*lifecycle.TopicUpdateResult, error)
	CheckTopicReadiness(ctx context.Context, topicID uuid.UUID) (readiness.Result, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*types.GenerationTask, error)
	AwaitTask(ctx context.Context, taskID uuid.UUID) (*types.GenerationTask, error)
}

type LifecycleHandler struct {
	log          *logger.Logger
	uc           Lifecycle
	awaitTimeout time.Duration
}

func NewLifecycleHandler(log *logger.Logger, uc Lifecycle, awaitTimeout time.Duration) *LifecycleHandler {
	if awaitTimeout <= 0 {
		awaitTimeout = 30 * time.Second
	}
	return &LifecycleHandler{log: log.With("handler", "LifecycleHandler"), uc: uc, awaitTimeout: awaitTimeout}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func dryRunQuery(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	return err == nil && v
}

// POST /internal/lifecycle/learners/:learner_id/modules/:module_id/enter?await=true
func (h *LifecycleHandler) EnterModule(c *gin.Context) {
	learnerID, ok := uuidParam(c, "learner_id")
	if !ok {
		return
	}
	moduleID, ok := uuidParam(c, "module_id")
	if !ok {
		return
	}
	res, err := h.uc.OnLearnerEntersModule(c.Request.Context(), learnerID, moduleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := gin.H{"enter": res}
	if await, _ := strconv.ParseBool(c.Query("await")); await && res.Awaitable && res.FirstTaskID != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.awaitTimeout)
		defer cancel()
		task, err := h.uc.AwaitTask(ctx, *res.FirstTaskID)
		if err != nil && task == nil {
			response.RespondErr(c, err)
			return
		}
		// a timeout still returns the task as last seen
		out["first_task"] = task
	}
	response.RespondOK(c, out)
}

// GET /internal/lifecycle/learners/:learner_id/modules/:module_id/lookahead
func (h *LifecycleHandler) GetLookahead(c *gin.Context) {
	learnerID, ok := uuidParam(c, "learner_id")
	if !ok {
		return
	}
	moduleID, ok := uuidParam(c, "module_id")
	if !ok {
		return
	}
	st, err := h.uc.GetLookaheadStatus(c.Request.Context(), learnerID, moduleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"lookahead": st})
}

type completeRequest struct {
	Score float64 `json:"score"`
}

// POST /internal/lifecycle/content/:vcu_id/complete
func (h *LifecycleHandler) CompleteContent(c *gin.Context) {
	vcuID, ok := uuidParam(c, "vcu_id")
	if !ok {
		return
	}
	var req completeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	p, err := h.uc.OnContentCompleted(c.Request.Context(), vcuID, req.Score)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": p})
}

// DELETE /internal/lifecycle/entities/:collection/:id?dry_run=true
func (h *LifecycleHandler) DeleteEntity(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.uc.RequestDeletion(c.Request.Context(), c.Param("collection"), id, dryRunQuery(c))
	if err != nil {
		h.respondDeletionErr(c, err, res)
		return
	}
	response.RespondOK(c, gin.H{"deletion": res})
}

// DELETE /internal/lifecycle/learners/:learner_id?dry_run=true
func (h *LifecycleHandler) PurgeLearner(c *gin.Context) {
	learnerID, ok := uuidParam(c, "learner_id")
	if !ok {
		return
	}
	res, err := h.uc.PurgeLearner(c.Request.Context(), learnerID, dryRunQuery(c))
	if err != nil {
		h.respondDeletionErr(c, err, res)
		return
	}
	response.RespondOK(c, gin.H{"deletions": res})
}

func (h *LifecycleHandler) respondDeletionErr(c *gin.Context, err error, partial any) {
	pf, ok := lifecycle.IsPartialFailure(err)
	if !ok {
		response.RespondErr(c, err)
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": response.APIError{
			Message: err.Error(),
			Code:    "cascade_partial_failure",
		},
		"failed_step":       pf.Step,
		"failed_collection": pf.Collection,
		"deletion":          partial,
	})
}

// POST /internal/lifecycle/topics/:topic_id/updated
func (h *LifecycleHandler) TopicUpdated(c *gin.Context) {
	topicID, ok := uuidParam(c, "topic_id")
	if !ok {
		return
	}
	res, err := h.uc.OnTopicUpdated(c.Request.Context(), topicID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"update": res})
}

// GET /internal/lifecycle/topics/:topic_id/readiness
func (h *LifecycleHandler) TopicReadiness(c *gin.Context) {
	topicID, ok := uuidParam(c, "topic_id")
	if !ok {
		return
	}
	res, err := h.uc.CheckTopicReadiness(c.Request.Context(), topicID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"readiness": res})
}

// GET /internal/lifecycle/tasks/:id
func (h *LifecycleHandler) GetTask(c *gin.Context) {
	taskID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	task, err := h.uc.GetTask(c.Request.Context(), taskID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"task": task})
}
