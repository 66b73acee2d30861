package evaluator

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"alertflow/conf"
	"alertflow/internal/dao"
	"alertflow/internal/market"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	"alertflow/pkg/logger"

	"github.com/bwmarrin/snowflake"
)

// 评估器：定时把活跃提醒和最新行情对一遍，命中的转到触发终态并产出触发事件
// 先写库再发事件：两步之间崩溃时事件可以靠重试补发，下游有去重兜底，不会双发

// Enqueuer 触发事件的去向（调度器）
type Enqueuer interface {
	Enqueue(item model.NotificationItem)
}

// AuditSink 触发事件审计流（kafka），尽力而为
type AuditSink interface {
	Produce(ctx context.Context, key string, v interface{}) error
}

type Evaluator struct {
	dao    dao.AlertDAO
	source market.DataSource
	sink   Enqueuer
	audit  AuditSink // 可以为nil
	node   *snowflake.Node

	interval     time.Duration
	parallelism  int
	quoteTimeout time.Duration

	running int32 // single-flight：上个周期没跑完就跳过本周期
	stop    chan struct{}
	done    chan struct{}

	cycles  int64
	emitted int64
}

func New(alertDao dao.AlertDAO, source market.DataSource, sink Enqueuer, audit AuditSink,
	node *snowflake.Node, cfg conf.EvaluatorConfig, quoteTimeout time.Duration) *Evaluator {
	return &Evaluator{
		dao:          alertDao,
		source:       source,
		sink:         sink,
		audit:        audit,
		node:         node,
		interval:     time.Duration(cfg.Interval) * time.Second,
		parallelism:  cfg.Parallelism,
		quoteTimeout: quoteTimeout,
	}
}

// Start 启动周期评估
func (e *Evaluator) Start() {
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		logger.Infof("evaluator started, interval=%s", e.interval)
		for {
			select {
			case <-ticker.C:
				if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
					logger.Warnf("evaluator 上个周期还没结束，跳过本周期")
					continue
				}
				e.RunCycle(context.Background())
				atomic.StoreInt32(&e.running, 0)
			case <-e.stop:
				return
			}
		}
	}()
}

// Stop 停止并等待在途周期结束
func (e *Evaluator) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	// 周期在调度goroutine里同步执行，done关闭即代表在途周期已结束
	<-e.done
	logger.Infof("evaluator stopped")
}

// RunCycle 跑一个完整评估周期
// 按交易对分组，每个交易对本周期只拉一次行情，外部调用数被币种数约束，和提醒条数无关
func (e *Evaluator) RunCycle(ctx context.Context) {
	atomic.AddInt64(&e.cycles, 1)

	alerts, err := e.dao.FindActive(ctx)
	if err != nil {
		logger.Errorf("evaluator 拉取活跃提醒失败: %v", err)
		return
	}
	if len(alerts) == 0 {
		return
	}

	groups := make(map[string][]entity.Alert)
	for _, a := range alerts {
		groups[a.Symbol] = append(groups[a.Symbol], a)
	}

	// 币种之间互相独立，有界并发拉行情
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for symbol, group := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string, group []entity.Alert) {
			defer wg.Done()
			defer func() { <-sem }()
			e.evalSymbol(ctx, symbol, group)
		}(symbol, group)
	}
	wg.Wait()
}

// evalSymbol 单个交易对的评估，失败只影响自己
func (e *Evaluator) evalSymbol(ctx context.Context, symbol string, alerts []entity.Alert) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	quote, err := e.source.GetLatestQuote(qctx, symbol)
	cancel()
	if err != nil {
		// NotFound 和临时故障都只跳过本周期，不中断其他交易对
		logger.Warnf("evaluator 行情获取失败，跳过 %s 本周期: %v", symbol, err)
		return
	}

	now := time.Now()
	for _, alert := range alerts {
		fired := conditionMet(model.Condition(alert.Condition), alert.LastPrice, quote.Price, alert.TargetPrice)

		// 不管触发与否都写回观察价，下个周期的穿越判断靠它
		if err := e.dao.UpdateObserved(ctx, alert.ID, quote.Price, now); err != nil {
			logger.Errorf("evaluator 写回观察价失败 alert=%s: %v", alert.ID, err)
		}

		if !fired {
			continue
		}

		if err := e.dao.MarkTriggered(ctx, alert.ID, quote.Price, now); err != nil {
			if errors.Is(err, dao.ErrConflict) {
				// 已经触发过（别的实例抢先了），幂等跳过
				continue
			}
			logger.Errorf("evaluator 标记触发失败 alert=%s: %v", alert.ID, err)
			continue
		}

		e.emit(ctx, model.TriggerEvent{
			ID:            e.node.Generate().String(),
			AlertID:       alert.ID,
			UserID:        alert.UserID,
			Symbol:        alert.Symbol,
			Condition:     model.Condition(alert.Condition),
			TargetPrice:   alert.TargetPrice,
			ObservedPrice: quote.Price,
			TriggeredAt:   now,
		})
	}
}

func (e *Evaluator) emit(ctx context.Context, evt model.TriggerEvent) {
	atomic.AddInt64(&e.emitted, 1)

	e.sink.Enqueue(model.NotificationItem{
		ID:     evt.ID,
		UserID: evt.UserID,
		Event:  "alert.triggered",
		Payload: model.PriceAlertPayload{
			AlertID:       evt.AlertID,
			Symbol:        evt.Symbol,
			Condition:     evt.Condition,
			TargetPrice:   evt.TargetPrice,
			ObservedPrice: evt.ObservedPrice,
			TriggeredAt:   evt.TriggeredAt.UnixMilli(),
		},
		Priority:   model.PriorityHigh,
		Dedupe:     true,
		EnqueuedAt: time.Now(),
	})

	// 审计流尽力而为，失败只记日志
	if e.audit != nil {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := e.audit.Produce(actx, evt.AlertID, evt); err != nil {
			logger.Warnf("evaluator 审计流写入失败 event=%s: %v", evt.ID, err)
		}
		cancel()
	}
}

// conditionMet 条件判断
// 穿越条件需要上个周期的观察价，第一次检查（没有last）不算穿越
func conditionMet(cond model.Condition, last sql.NullFloat64, current, target float64) bool {
	switch cond {
	case model.CondAbove:
		return current > target
	case model.CondBelow:
		return current < target
	case model.CondCrossUp:
		return last.Valid && last.Float64 <= target && current > target
	case model.CondCrossDown:
		return last.Valid && last.Float64 >= target && current < target
	}
	return false
}

// Stats 周期数和产出事件数
func (e *Evaluator) Stats() (cycles, emitted int64) {
	return atomic.LoadInt64(&e.cycles), atomic.LoadInt64(&e.emitted)
}
