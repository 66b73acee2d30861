package dedup

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"alertflow/conf"
	"alertflow/internal/model"
)

// 去重器：同一个逻辑事件在窗口内至多放行一次，并对单用户限流
// 检查和记录必须跨实例原子，所以状态全放在共享KV里，本结构体只有计数器

var (
	// ErrDuplicate 窗口内的重复事件，预期内结果，不算失败
	ErrDuplicate = errors.New("dedup: duplicate event")
	// ErrRateLimited 用户在限流窗口内事件过多
	ErrRateLimited = errors.New("dedup: rate limited")
)

// Store 去重键空间，生产环境是redis，单测用内存假实现
type Store interface {
	// SetIfNotExists 原子的 set if not exists + TTL，返回是否真的写入
	SetIfNotExists(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IncrWindow 窗口计数：INCR，首次写入时设置过期
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Deduplicator struct {
	store      Store
	window     time.Duration
	windows    map[model.Kind]time.Duration // 按类型覆盖默认窗口
	rateLimit  int64
	rateWindow time.Duration

	admitted    int64
	duplicates  int64
	rateLimited int64
}

func New(store Store, cfg conf.DedupeConfig) *Deduplicator {
	windows := make(map[model.Kind]time.Duration, len(cfg.Windows))
	for kind, secs := range cfg.Windows {
		if secs > 0 {
			windows[model.Kind(kind)] = time.Duration(secs) * time.Second
		}
	}
	return &Deduplicator{
		store:      store,
		window:     time.Duration(cfg.Window) * time.Second,
		windows:    windows,
		rateLimit:  int64(cfg.RateLimit),
		rateWindow: time.Duration(cfg.RateWindow) * time.Second,
	}
}

// Fingerprint 对 (用户, 类型, 规范化负载) 的稳定指纹
// 负载字段按键排序后哈希，和字段遍历顺序无关
func (d *Deduplicator) Fingerprint(userID string, p model.Payload) string {
	fields := p.Canonical()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	_, _ = io.WriteString(h, userID)
	_, _ = io.WriteString(h, "\x00")
	_, _ = io.WriteString(h, string(p.Kind()))
	for _, k := range keys {
		_, _ = io.WriteString(h, "\x00")
		_, _ = io.WriteString(h, k)
		_, _ = io.WriteString(h, "=")
		_, _ = io.WriteString(h, fields[k])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Admit 指纹去重在先，限流在后（限流计数只统计放行的事件）
// 返回的指纹无论放行与否都有效，调度器拿它当重试表的key
func (d *Deduplicator) Admit(ctx context.Context, userID string, p model.Payload) (string, error) {
	fp := d.Fingerprint(userID, p)

	ok, err := d.store.SetIfNotExists(ctx, "notify:dedup:"+fp, d.windowFor(p.Kind()))
	if err != nil {
		return fp, err
	}
	if !ok {
		atomic.AddInt64(&d.duplicates, 1)
		return fp, ErrDuplicate
	}

	n, err := d.store.IncrWindow(ctx, "notify:rate:"+userID, d.rateWindow)
	if err != nil {
		return fp, err
	}
	if n > d.rateLimit {
		atomic.AddInt64(&d.rateLimited, 1)
		return fp, ErrRateLimited
	}

	atomic.AddInt64(&d.admitted, 1)
	return fp, nil
}

func (d *Deduplicator) windowFor(kind model.Kind) time.Duration {
	if w, ok := d.windows[kind]; ok {
		return w
	}
	return d.window
}

// Stats 放行/重复/限流计数，统计接口用
func (d *Deduplicator) Stats() (admitted, duplicates, rateLimited int64) {
	return atomic.LoadInt64(&d.admitted),
		atomic.LoadInt64(&d.duplicates),
		atomic.LoadInt64(&d.rateLimited)
}
