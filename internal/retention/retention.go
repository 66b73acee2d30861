package retention

import (
	"context"
	"time"

	"alertflow/internal/dao"
	"alertflow/pkg/logger"
)

// Janitor 定期清理超过保留期的终态提醒
// 终态提醒只为历史查询保留，过了保留期直接删除
type Janitor struct {
	alerts   dao.AlertDAO
	days     int
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewJanitor(alerts dao.AlertDAO, days int) *Janitor {
	if days <= 0 {
		days = 30
	}
	return &Janitor{
		alerts:   alerts,
		days:     days,
		interval: 24 * time.Hour,
	}
}

func (j *Janitor) Start() {
	j.stop = make(chan struct{})
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		// 启动先跑一轮，重启后不等一天
		j.runOnce()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.runOnce()
			case <-j.stop:
				return
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.stop == nil {
		return
	}
	close(j.stop)
	<-j.done
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -j.days)
	n, err := j.alerts.PurgeTriggeredBefore(ctx, cutoff)
	if err != nil {
		logger.Errorf("retention 清理终态提醒失败: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("retention 清理了 %d 条超过 %d 天的终态提醒", n, j.days)
	}
}
