package model

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Priority 投递优先级，严格排序：high 全部出队后才轮到 normal，再轮到 low
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Kind 通知类型，闭合集合
type Kind string

const (
	KindPriceAlert    Kind = "price_alert"
	KindSystemNotice  Kind = "system_notice"
	KindAccountNotice Kind = "account_notice"
)

// Payload 各通知类型各自携带强类型负载
// Canonical 返回参与去重指纹的字段（不含时间戳等每次都变的值）
type Payload interface {
	Kind() Kind
	Canonical() map[string]string
}

// PriceAlertPayload 价格提醒触发的通知负载
type PriceAlertPayload struct {
	AlertID       string    `json:"alert_id"`
	Symbol        string    `json:"symbol"`
	Condition     Condition `json:"condition"`
	TargetPrice   float64   `json:"target_price"`
	ObservedPrice float64   `json:"observed_price"`
	TriggeredAt   int64     `json:"triggered_at"` // 毫秒时间戳
}

func (p PriceAlertPayload) Kind() Kind { return KindPriceAlert }

func (p PriceAlertPayload) Canonical() map[string]string {
	// 同一条规则的重复触发视为同一事件，观察价和时间戳不参与指纹
	return map[string]string{
		"symbol":       p.Symbol,
		"condition":    string(p.Condition),
		"target_price": cast.ToString(p.TargetPrice),
	}
}

// SystemNoticePayload 系统公告（广播）
type SystemNoticePayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (p SystemNoticePayload) Kind() Kind { return KindSystemNotice }

func (p SystemNoticePayload) Canonical() map[string]string {
	return map[string]string{"title": p.Title, "content": p.Content}
}

// AccountNoticePayload 账户类通知（入金到账、审核结果等，由外部子系统投递进来）
type AccountNoticePayload struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func (p AccountNoticePayload) Kind() Kind { return KindAccountNotice }

func (p AccountNoticePayload) Canonical() map[string]string {
	return map[string]string{"category": p.Category, "title": p.Title, "content": p.Content}
}

// FormatMessage 格式化边界：对通知类型做穷举匹配，产出推送的标题和正文
func FormatMessage(p Payload) (title, body string) {
	switch v := p.(type) {
	case PriceAlertPayload:
		title = fmt.Sprintf("%s 价格提醒", v.Symbol)
		switch v.Condition {
		case CondAbove, CondCrossUp:
			body = fmt.Sprintf("%s 现价 %v 已突破目标价 %v", v.Symbol, v.ObservedPrice, v.TargetPrice)
		default:
			body = fmt.Sprintf("%s 现价 %v 已跌破目标价 %v", v.Symbol, v.ObservedPrice, v.TargetPrice)
		}
	case SystemNoticePayload:
		title, body = v.Title, v.Content
	case AccountNoticePayload:
		title, body = v.Title, v.Content
	default:
		// 不应出现：Kind 是闭合集合
		title, body = "通知", ""
	}
	return
}

// NotificationItem 排队中的一条投递任务
type NotificationItem struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"` // Broadcast 时为空
	Event      string    `json:"event"`
	Payload    Payload   `json:"payload"`
	Priority   Priority  `json:"priority"`
	Dedupe     bool      `json:"dedupe"`
	Broadcast  bool      `json:"broadcast"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Envelope 实时通道上的统一消息信封
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ts      int64       `json:"ts"`
	Seq     uint64      `json:"seq"`
}
