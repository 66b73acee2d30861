package dao

import (
	"context"
	"errors"
	"time"

	"alertflow/internal/model"
	"alertflow/internal/model/entity"

	"gorm.io/gorm"
)

// ErrConflict 提醒已是触发终态，再次标记触发时返回
// 调用方应把它当成幂等空操作，而不是错误
var ErrConflict = errors.New("alert already triggered")

// AlertDAO 提醒数据访问对象接口
type AlertDAO interface {
	// FindActive 获取所有活跃提醒（评估器每个周期拉一次）
	FindActive(ctx context.Context) ([]entity.Alert, error)
	// FindActiveBySymbols 按交易对查活跃提醒
	FindActiveBySymbols(ctx context.Context, symbols []string) ([]entity.Alert, error)
	// FindByUser 用户自己的提醒列表，终态的也返回
	FindByUser(ctx context.Context, userID string) ([]entity.Alert, error)
	// Create 创建提醒
	Create(ctx context.Context, alert *entity.Alert) error

	// UpdateObserved 写回本周期观察价和检查时间，穿越条件下个周期依赖它
	// 只作用于活跃提醒，对终态行是空操作
	UpdateObserved(ctx context.Context, id string, price float64, checkedAt time.Time) error
	// MarkTriggered 条件更新到触发终态；已触发返回 ErrConflict
	MarkTriggered(ctx context.Context, id string, price float64, at time.Time) error

	// CountByStatus 活跃/已触发数量，给运维统计接口用
	CountByStatus(ctx context.Context) (active int64, triggered int64, err error)
	// PurgeTriggeredBefore 清理触发时间早于 t 的终态提醒，返回删除条数
	PurgeTriggeredBefore(ctx context.Context, t time.Time) (int64, error)
}

type alertDao struct {
	db *gorm.DB
}

func NewAlertDao(db *gorm.DB) AlertDAO {
	return &alertDao{db: db}
}

func (d *alertDao) FindActive(ctx context.Context) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := d.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Find(&alerts).Error
	return alerts, err
}

func (d *alertDao) FindActiveBySymbols(ctx context.Context, symbols []string) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := d.db.WithContext(ctx).
		Where("status = ? AND symbol IN ?", model.StatusActive, symbols).
		Find(&alerts).Error
	return alerts, err
}

func (d *alertDao) FindByUser(ctx context.Context, userID string) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&alerts).Error
	return alerts, err
}

func (d *alertDao) Create(ctx context.Context, alert *entity.Alert) error {
	return d.db.WithContext(ctx).Create(alert).Error
}

func (d *alertDao) UpdateObserved(ctx context.Context, id string, price float64, checkedAt time.Time) error {
	// 只写活跃行：另一个实例在本周期窗口内先把它触发了的话，终态行保持不动
	return d.db.WithContext(ctx).Model(&entity.Alert{}).
		Where("id = ? AND status = ?", id, model.StatusActive).
		Updates(map[string]interface{}{
			"last_price":      price,
			"last_checked_at": checkedAt,
		}).Error
}

func (d *alertDao) MarkTriggered(ctx context.Context, id string, price float64, at time.Time) error {
	// WHERE status='active' 保证状态机只走一次，两个实例竞争时只有一个成功
	res := d.db.WithContext(ctx).Model(&entity.Alert{}).
		Where("id = ? AND status = ?", id, model.StatusActive).
		Updates(map[string]interface{}{
			"status":        model.StatusTriggered,
			"trigger_price": price,
			"triggered_at":  at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (d *alertDao) CountByStatus(ctx context.Context) (active int64, triggered int64, err error) {
	err = d.db.WithContext(ctx).Model(&entity.Alert{}).
		Where("status = ?", model.StatusActive).Count(&active).Error
	if err != nil {
		return
	}
	err = d.db.WithContext(ctx).Model(&entity.Alert{}).
		Where("status = ?", model.StatusTriggered).Count(&triggered).Error
	return
}

func (d *alertDao) PurgeTriggeredBefore(ctx context.Context, t time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("status = ? AND triggered_at < ?", model.StatusTriggered, t).
		Delete(&entity.Alert{})
	return res.RowsAffected, res.Error
}
