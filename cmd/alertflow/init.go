package main

import (
	"context"

	"alertflow/conf"
	"alertflow/internal/dao"
	"alertflow/internal/dedup"
	"alertflow/internal/dispatcher"
	"alertflow/internal/evaluator"
	"alertflow/internal/fabric"
	"alertflow/internal/handler/admin"
	"alertflow/internal/handler/alertapi"
	"alertflow/internal/handler/notify"
	"alertflow/internal/market"
	"alertflow/internal/model/entity"
	"alertflow/internal/retention"
	"alertflow/internal/router"
	"alertflow/pkg/cache"
	"alertflow/pkg/kafka"
	"alertflow/pkg/logger"
	"alertflow/pkg/push/apns"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// App 持有全部后台组件，统一启动和回收
type App struct {
	Router *router.ApiRouter

	eval    *evaluator.Evaluator
	disp    *dispatcher.Dispatcher
	fab     *fabric.Fabric
	janitor *retention.Janitor
	gateway *notify.NotifyGateway
	audit   kafka.ProducerService // 可以为nil
}

func initApp(gdb *gorm.DB) (*App, error) {
	cfg := conf.AppConfig

	if err := gdb.AutoMigrate(&entity.Alert{}, &entity.NotificationRecord{}, &entity.DeviceToken{}); err != nil {
		return nil, err
	}

	alertDao := dao.NewAlertDao(gdb)
	deviceDao := dao.NewDeviceDao(gdb)
	recordDao := dao.NewNotificationDao(gdb)

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	rdb := cache.GetRedisClient()

	// 推送未配置时织网只走实时通道
	var pusher fabric.Pusher
	if cfg.Apple.Apns.KeyFile != "" {
		p, err := apns.NewTokenApns(&cfg.Apple.Apns)
		if err != nil {
			return nil, err
		}
		pusher = p
		logger.Infof("APNS push enabled, topic=%s", cfg.Apple.Apns.Topic)
	}

	gateway := notify.NewNotifyGateway()
	fab := fabric.New(fabric.NewRedisBackbone(rdb), gateway, pusher, deviceDao, recordDao)

	dedupe := dedup.New(dedup.NewRedisStore(rdb), cfg.Dedupe)
	disp := dispatcher.New(dedupe, fab, cfg.Dispatcher)

	// 审计流未配置broker时关闭
	var audit kafka.ProducerService
	if cfg.Kafka.Broker != "" {
		audit = kafka.NewAuditProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		logger.Infof("trigger audit stream enabled, topic=%s", cfg.Kafka.Topic)
	}

	source := market.NewOkxSource(cfg.Market.BaseURL, cfg.Market.QuoteTimeout())
	var sink evaluator.AuditSink
	if audit != nil {
		sink = audit
	}
	eval := evaluator.New(alertDao, source, disp, sink, node, cfg.Evaluator, cfg.Market.QuoteTimeout())

	janitor := retention.NewJanitor(alertDao, cfg.Retention.Days)

	alertHandler := alertapi.NewAlertHandler(alertDao)
	adminHandler := admin.NewAdminHandler(alertDao, recordDao, dedupe, disp, eval, fab, gateway)

	return &App{
		Router:  router.NewApiRouter(alertHandler, adminHandler, gateway),
		eval:    eval,
		disp:    disp,
		fab:     fab,
		janitor: janitor,
		gateway: gateway,
		audit:   audit,
	}, nil
}

// Start 启动后台组件：先订阅织网，再开调度器和评估器
func (a *App) Start() {
	if err := a.fab.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start delivery fabric: %v", err)
	}
	a.disp.Start()
	a.eval.Start()
	a.janitor.Start()
}

// Shutdown 回收顺序：先停止产生新事件的评估器，再停调度器（排空重试表之外的队列），
// 最后关织网订阅和长连接
func (a *App) Shutdown() {
	a.eval.Stop()
	a.janitor.Stop()
	a.disp.Stop()
	a.fab.Close()
	a.gateway.CloseAll()
	if a.audit != nil {
		a.audit.Close()
	}
}
