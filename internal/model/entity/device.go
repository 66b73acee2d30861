package entity

import (
	"time"

	"gorm.io/plugin/soft_delete"
)

// DeviceToken 用户的推送设备token，一个用户可能有多台设备
type DeviceToken struct {
	Id          int64                 `gorm:"column:id;primary_key" json:"id"`
	UserID      string                `gorm:"column:user_id;index;type:varchar(36);not null" json:"user_id"`
	DeviceToken string                `gorm:"column:device_token;not null" json:"device_token"`
	Platform    string                `gorm:"column:platform;not null" json:"platform"` // ios / android
	CreatedAt   time.Time             `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"column:updated_at" json:"updated_at"`
	IsDel       soft_delete.DeletedAt `gorm:"softDelete:flag" json:"-"`
}

func (DeviceToken) TableName() string {
	return "device_token"
}
