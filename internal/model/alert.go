package model

import "time"

// Quote 某个交易对的最新行情
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// Condition 提醒触发条件
type Condition string

const (
	CondAbove     Condition = "above"       // 现价高于目标价
	CondBelow     Condition = "below"       // 现价低于目标价
	CondCrossUp   Condition = "crosses_up"  // 上穿：上次<=目标价 且 现价>目标价
	CondCrossDown Condition = "crosses_down" // 下穿：上次>=目标价 且 现价<目标价
)

// Valid 条件是否属于支持的集合
func (c Condition) Valid() bool {
	switch c {
	case CondAbove, CondBelow, CondCrossUp, CondCrossDown:
		return true
	}
	return false
}

// 提醒生命周期状态，触发后不可逆
const (
	StatusActive    = "active"
	StatusTriggered = "triggered"
)

// TriggerEvent 一条提醒触发的事实，不可变
type TriggerEvent struct {
	ID            string    `json:"id"`
	AlertID       string    `json:"alert_id"`
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Condition     Condition `json:"condition"`
	TargetPrice   float64   `json:"target_price"`
	ObservedPrice float64   `json:"observed_price"`
	TriggeredAt   time.Time `json:"triggered_at"`
}
