package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"alertflow/conf"
	"alertflow/internal/dedup"
	"alertflow/internal/model"
	"alertflow/pkg/logger"
)

// 批量调度器：吸收突发的通知洪峰，按优先级分批投递，失败的有界重试
// 队列和重试表都是实例本地状态，丢了最多延迟/丢重试，不会导致重复投递（去重靠共享KV）

// Gate 去重闸口
type Gate interface {
	Admit(ctx context.Context, userID string, p model.Payload) (string, error)
	Fingerprint(userID string, p model.Payload) string
}

// Transport 投递通道（DeliveryFabric）
type Transport interface {
	PublishToUser(ctx context.Context, userID, event string, payload model.Payload) error
	Broadcast(ctx context.Context, event string, payload model.Payload) error
}

// retryEntry 重试表条目，按指纹索引
// 重新入队后条目留在表里（queued=true），尝试次数跨轮次累计
type retryEntry struct {
	item        model.NotificationItem
	attempts    int
	nextRetryAt time.Time
	queued      bool
}

type Dispatcher struct {
	gate      Gate
	transport Transport

	tick        time.Duration
	batchSize   int
	concurrency int
	maxAttempts int
	retryDelay  time.Duration

	mu      sync.Mutex
	high    []model.NotificationItem
	normal  []model.NotificationItem
	low     []model.NotificationItem
	retries map[string]*retryEntry

	delivered int64
	terminal  int64

	stop chan struct{}
	done chan struct{}
}

func New(gate Gate, transport Transport, cfg conf.DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		gate:        gate,
		transport:   transport,
		tick:        time.Duration(cfg.Tick) * time.Second,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  time.Duration(cfg.RetryDelay) * time.Second,
		retries:     make(map[string]*retryEntry),
	}
}

// Enqueue 入队，按优先级进对应FIFO
func (d *Dispatcher) Enqueue(item model.NotificationItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch item.Priority {
	case model.PriorityHigh:
		d.high = append(d.high, item)
	case model.PriorityLow:
		d.low = append(d.low, item)
	default:
		d.normal = append(d.normal, item)
	}
}

// Start 启动出队节拍
func (d *Dispatcher) Start() {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()

		logger.Infof("dispatcher started, tick=%s batch=%d concurrency=%d", d.tick, d.batchSize, d.concurrency)
		for {
			select {
			case <-ticker.C:
				d.Tick(context.Background())
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop 停止节拍并等待在途批次投递完
func (d *Dispatcher) Stop() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
	logger.Infof("dispatcher stopped")
}

// Tick 一个节拍：先把到期的重试捞回高优队列，再按严格优先级出一批投递
func (d *Dispatcher) Tick(ctx context.Context) {
	d.requeueDueRetries()

	batch := d.drainBatch()
	if len(batch) == 0 {
		return
	}

	// 有界并发投递，一万条积压也不会打开一万个出站连接
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, item := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(item model.NotificationItem) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, item)
		}(item)
	}
	wg.Wait()
}

// requeueDueRetries 到期重试回到高优队列：重试优先于新的normal/low，但不插队新的high
func (d *Dispatcher) requeueDueRetries() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for _, e := range d.retries {
		if e.queued || e.nextRetryAt.After(now) {
			continue
		}
		item := e.item
		// 首次投递前已经过过闸口，重试不再走去重（自己的指纹还在窗口里）
		item.Dedupe = false
		item.Priority = model.PriorityHigh
		d.high = append(d.high, item)
		e.queued = true
	}
}

// drainBatch 严格优先级出队：high清空才轮到normal，normal清空才轮到low
func (d *Dispatcher) drainBatch() []model.NotificationItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := make([]model.NotificationItem, 0, d.batchSize)
	take := func(q []model.NotificationItem) []model.NotificationItem {
		n := d.batchSize - len(batch)
		if n > len(q) {
			n = len(q)
		}
		batch = append(batch, q[:n]...)
		return q[n:]
	}
	d.high = take(d.high)
	d.normal = take(d.normal)
	d.low = take(d.low)
	return batch
}

// deliver 单条投递：闸口 -> 通道，失败进重试表
func (d *Dispatcher) deliver(ctx context.Context, item model.NotificationItem) {
	fp := d.gate.Fingerprint(item.UserID, item.Payload)

	if item.Dedupe && !item.Broadcast {
		var err error
		fp, err = d.gate.Admit(ctx, item.UserID, item.Payload)
		if errors.Is(err, dedup.ErrDuplicate) || errors.Is(err, dedup.ErrRateLimited) {
			// 预期内结果，不算失败
			logger.Debugf("dispatcher item=%s user=%s 被闸口拦下: %v", item.ID, item.UserID, err)
			return
		}
		if err != nil {
			// 共享KV故障按投递失败处理，走重试
			logger.Warnf("dispatcher 闸口检查失败 item=%s: %v", item.ID, err)
			d.scheduleRetry(fp, item)
			return
		}
	}

	var err error
	if item.Broadcast {
		err = d.transport.Broadcast(ctx, item.Event, item.Payload)
	} else {
		err = d.transport.PublishToUser(ctx, item.UserID, item.Event, item.Payload)
	}
	if err != nil {
		logger.Warnf("dispatcher 投递失败 item=%s user=%s: %v", item.ID, item.UserID, err)
		d.scheduleRetry(fp, item)
		return
	}
	atomic.AddInt64(&d.delivered, 1)
	d.clearRetry(fp)
}

// clearRetry 投递成功后清掉重试条目
func (d *Dispatcher) clearRetry(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.retries, fp)
}

// scheduleRetry 按指纹记一次失败；尝试次数耗尽就永久丢弃
func (d *Dispatcher) scheduleRetry(fp string, item model.NotificationItem) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.retries[fp]
	if !ok {
		e = &retryEntry{item: item}
		d.retries[fp] = e
	}
	e.attempts++
	e.queued = false
	if e.attempts >= d.maxAttempts {
		delete(d.retries, fp)
		atomic.AddInt64(&d.terminal, 1)
		// 接受丢失的终态结果，只在这里报一次
		logger.Errorf("dispatcher 重试耗尽，永久丢弃 item=%s user=%s attempts=%d", item.ID, item.UserID, e.attempts)
		return
	}
	e.nextRetryAt = time.Now().Add(d.retryDelay)
}

// QueueStats 队列深度和重试表大小是运维最主要的背压信号
type QueueStats struct {
	High             int   `json:"high"`
	Normal           int   `json:"normal"`
	Low              int   `json:"low"`
	RetryTable       int   `json:"retry_table"`
	Delivered        int64 `json:"delivered"`
	TerminalFailures int64 `json:"terminal_failures"`
}

func (d *Dispatcher) Stats() QueueStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return QueueStats{
		High:             len(d.high),
		Normal:           len(d.normal),
		Low:              len(d.low),
		RetryTable:       len(d.retries),
		Delivered:        atomic.LoadInt64(&d.delivered),
		TerminalFailures: atomic.LoadInt64(&d.terminal),
	}
}
