package fabric

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"alertflow/internal/dao"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	"alertflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// 投递织网：让任意一个无状态实例都能触达任意用户，不管用户的长连接挂在谁身上
// 每个实例都订阅广播频道和全部用户频道的通配模式，收到后只转发给本地在线的连接，
// 不在本地的静默丢掉（持有连接的那个实例会转发；谁都没持有就由通知历史表兜底）

const (
	broadcastChannel   = "notify:broadcast"
	userChannelPrefix  = "notify:user:"
	userChannelPattern = "notify:user:*"
)

// Message 骨干网上的一条原始消息
type Message struct {
	Channel string
	Data    []byte
}

// Backbone 跨进程pub/sub骨干（生产环境是redis，单测用内存总线）
type Backbone interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// PSubscribe 按模式订阅，返回消息通道和关闭函数
	PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, func() error, error)
}

// Registry 本实例的在线连接表，websocket gateway实现
type Registry interface {
	// Deliver 转发给本地连接，用户不在本实例返回false
	Deliver(userID string, data []byte) bool
	// BroadcastLocal 发给本实例所有在线连接
	BroadcastLocal(data []byte)
	// Connected 用户在本实例是否有活跃连接
	Connected(userID string) bool
}

// Pusher 推送能力（APNS），未配置时为nil，属于合法状态
type Pusher interface {
	Push(ctx context.Context, tokens []string, title, body string, extra map[string]string) (success, failure int, err error)
}

type Fabric struct {
	backbone Backbone
	registry Registry
	pusher   Pusher              // 可以为nil
	devices  dao.DeviceDAO       // pusher为nil时不用
	records  dao.NotificationDAO // 可以为nil（单测）

	mu   sync.Mutex
	seqs map[string]uint64 // 每用户发布序号，单发布方对单频道保序
	bseq uint64

	published int64
	forwarded int64
	dropped   int64
	pushOK    int64
	pushFail  int64

	closeSub func() error
	done     chan struct{}
}

func New(backbone Backbone, registry Registry, pusher Pusher,
	devices dao.DeviceDAO, records dao.NotificationDAO) *Fabric {
	return &Fabric{
		backbone: backbone,
		registry: registry,
		pusher:   pusher,
		devices:  devices,
		records:  records,
		seqs:     make(map[string]uint64),
	}
}

// Start 订阅骨干并启动转发循环
func (f *Fabric) Start(ctx context.Context) error {
	ch, closer, err := f.backbone.PSubscribe(ctx, userChannelPattern, broadcastChannel)
	if err != nil {
		return err
	}
	f.closeSub = closer
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		for msg := range ch {
			if msg.Channel == broadcastChannel {
				f.registry.BroadcastLocal(msg.Data)
				continue
			}
			userID := strings.TrimPrefix(msg.Channel, userChannelPrefix)
			if f.registry.Deliver(userID, msg.Data) {
				atomic.AddInt64(&f.forwarded, 1)
			} else {
				// 用户不在本实例，静默丢弃
				atomic.AddInt64(&f.dropped, 1)
			}
		}
	}()

	logger.Infof("delivery fabric subscribed: %s, %s", userChannelPattern, broadcastChannel)
	return nil
}

// Close 取消订阅并等转发循环退出
// 调用方保证先停掉调度器再关织网，避免广播到一半丢消息
func (f *Fabric) Close() {
	if f.closeSub == nil {
		return
	}
	_ = f.closeSub()
	<-f.done
	logger.Infof("delivery fabric closed")
}

// PublishToUser 发布到用户频道；配置了推送时同时走APNS
func (f *Fabric) PublishToUser(ctx context.Context, userID, event string, payload model.Payload) error {
	data, err := json.Marshal(model.Envelope{
		Event:   event,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
		Seq:     f.nextSeq(userID),
	})
	if err != nil {
		return err
	}

	if err := f.backbone.Publish(ctx, userChannelPrefix+userID, data); err != nil {
		return err
	}
	atomic.AddInt64(&f.published, 1)

	// 发布成功才落历史：发布失败由调度器重投，提前落库会让每次重试多出一条记录
	f.saveRecord(ctx, userID, event, payload)

	// 推送尽力而为，不参与投递成败
	f.pushTo(ctx, userID, event, payload)
	return nil
}

// Broadcast 发布到广播频道
func (f *Fabric) Broadcast(ctx context.Context, event string, payload model.Payload) error {
	f.mu.Lock()
	f.bseq++
	seq := f.bseq
	f.mu.Unlock()

	data, err := json.Marshal(model.Envelope{
		Event:   event,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
		Seq:     seq,
	})
	if err != nil {
		return err
	}
	if err := f.backbone.Publish(ctx, broadcastChannel, data); err != nil {
		return err
	}
	atomic.AddInt64(&f.published, 1)
	return nil
}

func (f *Fabric) nextSeq(userID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs[userID]++
	return f.seqs[userID]
}

func (f *Fabric) saveRecord(ctx context.Context, userID, event string, payload model.Payload) {
	if f.records == nil {
		return
	}
	title, body := model.FormatMessage(payload)
	extra, _ := json.Marshal(payload)
	rec := &entity.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		Kind:      string(payload.Kind()),
		Title:     title,
		Content:   body,
		Timestamp: time.Now().UnixMilli(),
		ExtraJSON: string(extra),
	}
	if err := f.records.Save(ctx, rec); err != nil {
		// 允许失败，继续发布实时消息
		logger.Warnf("fabric 保存通知历史失败 user=%s: %v", userID, err)
	}
}

func (f *Fabric) pushTo(ctx context.Context, userID, event string, payload model.Payload) {
	if f.pusher == nil || f.devices == nil {
		return
	}
	// 用户的长连接就挂在本实例时实时通道已覆盖，不再打扰APNS
	// 连接挂在别的实例时本地看不到，会多推一次，可接受
	if f.registry.Connected(userID) {
		return
	}
	tokens, err := f.devices.ListTokensByUser(ctx, userID)
	if err != nil {
		logger.Warnf("fabric 查询设备token失败 user=%s: %v", userID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	title, body := model.FormatMessage(payload)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, fail, err := f.pusher.Push(pctx, tokens, title, body, map[string]string{"event": event})
	atomic.AddInt64(&f.pushOK, int64(ok))
	atomic.AddInt64(&f.pushFail, int64(fail))
	if err != nil {
		logger.Warnf("fabric APNS推送失败 user=%s: %v", userID, err)
	}
}

// FabricStats 发布/转发/丢弃和推送成败计数
type FabricStats struct {
	Published   int64 `json:"published"`
	Forwarded   int64 `json:"forwarded"`
	Dropped     int64 `json:"dropped"`
	PushSuccess int64 `json:"push_success"`
	PushFailure int64 `json:"push_failure"`
}

func (f *Fabric) Stats() FabricStats {
	return FabricStats{
		Published:   atomic.LoadInt64(&f.published),
		Forwarded:   atomic.LoadInt64(&f.forwarded),
		Dropped:     atomic.LoadInt64(&f.dropped),
		PushSuccess: atomic.LoadInt64(&f.pushOK),
		PushFailure: atomic.LoadInt64(&f.pushFail),
	}
}
