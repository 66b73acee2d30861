package dao

import (
	"context"

	"alertflow/internal/model/entity"

	"gorm.io/gorm"
)

// NotificationDAO 通知历史，实时通道有损，可靠送达靠这里
type NotificationDAO interface {
	// Save 保存一条通知记录
	Save(ctx context.Context, rec *entity.NotificationRecord) error
	// ListByUser 按时间倒序分页查询用户通知历史
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.NotificationRecord, error)
}

type notificationDao struct {
	db *gorm.DB
}

func NewNotificationDao(db *gorm.DB) NotificationDAO {
	return &notificationDao{db: db}
}

func (d *notificationDao) Save(ctx context.Context, rec *entity.NotificationRecord) error {
	return d.db.WithContext(ctx).Create(rec).Error
}

func (d *notificationDao) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.NotificationRecord, error) {
	var recs []entity.NotificationRecord
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).Offset(offset).
		Find(&recs).Error
	return recs, err
}
