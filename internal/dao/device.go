package dao

import (
	"context"

	"alertflow/internal/model/entity"

	"gorm.io/gorm"
)

// DeviceDAO 设备token查询，推送桥接用
type DeviceDAO interface {
	// ListTokensByUser 查用户所有未删除设备的token
	ListTokensByUser(ctx context.Context, userID string) ([]string, error)
}

type deviceDao struct {
	db *gorm.DB
}

func NewDeviceDao(db *gorm.DB) DeviceDAO {
	return &deviceDao{db: db}
}

func (d *deviceDao) ListTokensByUser(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := d.db.WithContext(ctx).Model(&entity.DeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("device_token", &tokens).Error
	return tokens, err
}
