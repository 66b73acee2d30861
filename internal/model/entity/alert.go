package entity

import (
	"database/sql"
	"time"
)

// Alert 用户的价格提醒规则
// 状态只有 active / triggered 两种，triggered 为终态，之后只等保留期清理
type Alert struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"index:idx_user;type:varchar(36);not null" json:"user_id"`
	Symbol        string          `gorm:"index:idx_symbol_status;type:varchar(30);not null" json:"symbol"` // 交易对，如 BTC-USDT
	Condition     string          `gorm:"type:varchar(16);not null" json:"condition"`                      // above/below/crosses_up/crosses_down
	TargetPrice   float64         `gorm:"type:decimal(20,8);not null" json:"target_price"`
	LastPrice     sql.NullFloat64 `gorm:"type:decimal(20,8)" json:"last_price"`   // 上个周期观察到的价格，穿越判断依赖它
	Status        string          `gorm:"index:idx_symbol_status;type:varchar(12);not null" json:"status"`
	TriggerPrice  sql.NullFloat64 `gorm:"type:decimal(20,8)" json:"trigger_price"`
	CreatedAt     time.Time       `json:"created_at"`
	LastCheckedAt sql.NullTime    `json:"last_checked_at"`
	TriggeredAt   sql.NullTime    `gorm:"index" json:"triggered_at"` // 清理任务按它判断保留期

	UpdatedAt time.Time `json:"updated_at"`
}

func (Alert) TableName() string {
	return "price_alert"
}

// NotificationRecord 已投递（或尝试投递）的通知历史
// 实时通道是有损的，可靠送达靠这张表，App 拉历史记录也查它
type NotificationRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string `gorm:"index:idx_user_ts;type:varchar(36);not null" json:"user_id"`
	Event     string `gorm:"type:varchar(50)" json:"event"`
	Kind      string `gorm:"type:varchar(30)" json:"kind"`
	Title     string `gorm:"type:varchar(100)" json:"title"`
	Content   string `gorm:"type:text" json:"content"`
	Timestamp int64  `gorm:"index:idx_user_ts;type:bigint;not null" json:"timestamp"` // 毫秒，排序分页用
	ExtraJSON string `gorm:"column:extra_json;type:json" json:"extra_json"`           // 触发价格、目标价等明细

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (NotificationRecord) TableName() string {
	return "notification_record"
}
