package alertapi

import (
	"errors"

	"alertflow/internal/dao"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	"alertflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AlertHandler 用户价格提醒的创建和查询
type AlertHandler struct {
	alerts dao.AlertDAO
}

func NewAlertHandler(alerts dao.AlertDAO) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

type createReq struct {
	UserID      string  `json:"user_id" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	Condition   string  `json:"condition" binding:"required"`
	TargetPrice float64 `json:"target_price" binding:"required,gt=0"`
}

// Create 创建价格提醒
func (h *AlertHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, err, nil)
			return
		}
		cond := model.Condition(req.Condition)
		if !cond.Valid() {
			response.JSON(c, errBadCondition, nil)
			return
		}

		alert := &entity.Alert{
			ID:          uuid.NewString(),
			UserID:      req.UserID,
			Symbol:      req.Symbol,
			Condition:   string(cond),
			TargetPrice: req.TargetPrice,
			Status:      model.StatusActive,
		}
		if err := h.alerts.Create(c.Request.Context(), alert); err != nil {
			response.JSON(c, err, nil)
			return
		}
		// 新建的提醒在下一个评估周期生效
		response.JSON(c, nil, alert)
	}
}

// List 用户的提醒列表
func (h *AlertHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			response.JSON(c, errMissingUserID, nil)
			return
		}
		alerts, err := h.alerts.FindByUser(c.Request.Context(), userID)
		if err != nil {
			response.JSON(c, err, nil)
			return
		}
		response.JSON(c, nil, gin.H{"list": alerts, "count": len(alerts)})
	}
}

var (
	errBadCondition  = errors.New("condition 只支持 above/below/crosses_up/crosses_down")
	errMissingUserID = errors.New("user_id 不能为空")
)
