package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/content-fanout/pkg/response"
)

// Health 存活与依赖检查
// @Summary 健康检查
// @Tags 运维
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Response{Code: http.StatusServiceUnavailable, Message: err.Error()})
			return
		}
	}
	response.Success(c, gin.H{"status": "ok"})
}

type discoverRequest struct {
	Before *time.Time `json:"before"`
}

// TriggerDiscovery 手动触发一次定时内容扫描
// @Summary 触发定时发布扫描
// @Tags 运维
// @Accept json
// @Produce json
// @Param request body discoverRequest false "截止时间，默认当前时间"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/scheduler/discover [post]
func (h *Handler) TriggerDiscovery(c *gin.Context) {
	var req discoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	before := h.now()
	if req.Before != nil {
		before = *req.Before
	}
	stats, err := h.discoverer.Discover(c.Request.Context(), before)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{
		"before":   before,
		"fetches":  stats.Fetches,
		"found":    stats.Found,
		"enqueued": stats.Enqueued,
		"skipped":  stats.Skipped,
	})
}

// GetJob 查询队列任务
// @Summary 查询任务
// @Tags 运维
// @Param queue path string true "队列名"
// @Param id path string true "任务ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/queues/{queue}/jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	name, ok := h.queueParam(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(c.Request.Context(), name, c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if job == nil {
		response.NotFound(c, "job not found")
		return
	}
	response.Success(c, job)
}

// RemoveJob 移除等待中或延迟中的任务
// @Summary 移除任务
// @Tags 运维
// @Param queue path string true "队列名"
// @Param id path string true "任务ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/queues/{queue}/jobs/{id} [delete]
func (h *Handler) RemoveJob(c *gin.Context) {
	name, ok := h.queueParam(c)
	if !ok {
		return
	}
	removed, err := h.jobs.RemoveJob(c.Request.Context(), name, c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !removed {
		response.Conflict(c, "job is missing or already running")
		return
	}
	response.Success(c, nil)
}

// GetReactionCounts 内容反应计数（缓存未命中时重建）
// @Summary 查询反应计数
// @Tags 运维
// @Param id path string true "内容ID"
// @Success 200 {object} response.Response{data=map[string]int64}
// @Router /api/v1/contents/{id}/reactions [get]
func (h *Handler) GetReactionCounts(c *gin.Context) {
	counts, err := h.reactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, counts)
}

// ReconcileNewsfeed 按用户当前分组重新回填 newsfeed
// @Summary 修复用户 newsfeed
// @Tags 运维
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response
// @Router /api/v1/newsfeeds/{user_id}/reconcile [post]
func (h *Handler) ReconcileNewsfeed(c *gin.Context) {
	n, err := h.reconciler.Reconcile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"attached": n})
}

func (h *Handler) queueParam(c *gin.Context) (string, bool) {
	name := c.Param("queue")
	if _, ok := h.queues[name]; !ok {
		response.NotFound(c, "unknown queue "+name)
		return "", false
	}
	return name, true
}
