package router

import (
	"alertflow/internal/handler/admin"
	"alertflow/internal/handler/alertapi"
	"alertflow/internal/handler/notify"
	"alertflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	alertHandler *alertapi.AlertHandler
	adminHandler *admin.AdminHandler
	gateway      *notify.NotifyGateway
}

func NewApiRouter(ah *alertapi.AlertHandler, adm *admin.AdminHandler, gw *notify.NotifyGateway) *ApiRouter {
	return &ApiRouter{alertHandler: ah, adminHandler: adm, gateway: gw}
}

func (api *ApiRouter) Load(g *gin.Engine) {

	base := g.Group("/api/v1")

	a := base.Group("/alerts", middleware.AntiDuplicate())
	{
		// 创建价格提醒
		a.POST("/create", api.alertHandler.Create())
		a.GET("/list", api.alertHandler.List())
	}

	n := base.Group("/notify")
	{
		n.GET("/ws", api.gateway.ServeWS) // 通过websocket接收实时通知
		n.GET("/history", api.adminHandler.NotificationHistory())
	}

	adm := base.Group("/admin")
	{
		adm.GET("/stats", api.adminHandler.Stats())
		adm.POST("/broadcast", api.adminHandler.Broadcast())
		adm.POST("/notify", api.adminHandler.Notify())
	}
}
