package admin

import (
	"errors"
	"time"

	"alertflow/internal/dao"
	"alertflow/internal/dedup"
	"alertflow/internal/dispatcher"
	"alertflow/internal/evaluator"
	"alertflow/internal/fabric"
	"alertflow/internal/handler/notify"
	"alertflow/internal/model"
	"alertflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// AdminHandler 运维观测面，聚合各环节的运行计数
type AdminHandler struct {
	alerts  dao.AlertDAO
	records dao.NotificationDAO
	dedup   *dedup.Deduplicator
	disp    *dispatcher.Dispatcher
	eval    *evaluator.Evaluator
	fab     *fabric.Fabric
	gateway *notify.NotifyGateway
}

func NewAdminHandler(alerts dao.AlertDAO, records dao.NotificationDAO, d *dedup.Deduplicator,
	disp *dispatcher.Dispatcher, eval *evaluator.Evaluator, fab *fabric.Fabric,
	gateway *notify.NotifyGateway) *AdminHandler {
	return &AdminHandler{
		alerts:  alerts,
		records: records,
		dedup:   d,
		disp:    disp,
		eval:    eval,
		fab:     fab,
		gateway: gateway,
	}
}

// Stats 聚合统计
func (h *AdminHandler) Stats() gin.HandlerFunc {
	return func(c *gin.Context) {
		active, triggered, err := h.alerts.CountByStatus(c.Request.Context())
		if err != nil {
			response.JSON(c, err, nil)
			return
		}

		cycles, emitted := h.eval.Stats()
		admitted, duplicates, rateLimited := h.dedup.Stats()
		response.JSON(c, nil, gin.H{
			"alerts": gin.H{
				"active":    active,
				"triggered": triggered,
			},
			"evaluator": gin.H{
				"cycles":  cycles,
				"emitted": emitted,
			},
			"dedupe": gin.H{
				"admitted":     admitted,
				"duplicates":   duplicates,
				"rate_limited": rateLimited,
			},
			"dispatcher": h.disp.Stats(),
			"fabric":     h.fab.Stats(),
			"gateway": gin.H{
				"online":  h.gateway.Online(),
				"dropped": h.gateway.Dropped(),
			},
		})
	}
}

// NotificationHistory 用户通知历史，App拉历史记录用
func (h *AdminHandler) NotificationHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			response.JSON(c, errMissingUserID, nil)
			return
		}
		limit := cast.ToInt(c.DefaultQuery("limit", "20"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := cast.ToInt(c.DefaultQuery("offset", "0"))

		recs, err := h.records.ListByUser(c.Request.Context(), userID, limit, offset)
		if err != nil {
			response.JSON(c, err, nil)
			return
		}
		response.JSON(c, nil, gin.H{"list": recs, "count": len(recs)})
	}
}

var errMissingUserID = errors.New("user_id 不能为空")

// broadcastReq 系统公告
type broadcastReq struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// Broadcast 下发系统公告，走低优先级批量队列
func (h *AdminHandler) Broadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req broadcastReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, err, nil)
			return
		}
		h.disp.Enqueue(model.NotificationItem{
			ID:    uuid.NewString(),
			Event: "system.notice",
			Payload: model.SystemNoticePayload{
				Title:   req.Title,
				Content: req.Content,
			},
			Priority:   model.PriorityLow,
			Broadcast:  true,
			EnqueuedAt: time.Now(),
		})
		response.JSON(c, nil, gin.H{"queued": true})
	}
}

// noticeReq 外部子系统投递的账户类通知
type noticeReq struct {
	UserID   string `json:"user_id" binding:"required"`
	Category string `json:"category" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// Notify 接收账户类通知（入金到账、审核结果等），普通优先级，带去重
func (h *AdminHandler) Notify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req noticeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, err, nil)
			return
		}
		h.disp.Enqueue(model.NotificationItem{
			ID:     uuid.NewString(),
			UserID: req.UserID,
			Event:  "account.notice",
			Payload: model.AccountNoticePayload{
				Category: req.Category,
				Title:    req.Title,
				Content:  req.Content,
			},
			Priority:   model.PriorityNormal,
			Dedupe:     true,
			EnqueuedAt: time.Now(),
		})
		response.JSON(c, nil, gin.H{"queued": true})
	}
}
