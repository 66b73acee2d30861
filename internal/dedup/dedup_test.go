package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alertflow/conf"
	"alertflow/internal/model"
)

// fakeStore 内存版Store，时钟可以手动拨快来模拟窗口过期
type fakeStore struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]time.Time // key -> 过期时间
	counts  map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:     time.Now(),
		entries: make(map[string]time.Time),
		counts:  make(map[string]int64),
	}
}

func (s *fakeStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeStore) SetIfNotExists(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[key]; ok && exp.After(s.now) {
		return false, nil
	}
	s.entries[key] = s.now.Add(ttl)
	return true, nil
}

func (s *fakeStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries["ttl:"+key]; !ok || !exp.After(s.now) {
		s.counts[key] = 0
		s.entries["ttl:"+key] = s.now.Add(window)
	}
	s.counts[key]++
	return s.counts[key], nil
}

func testConfig() conf.DedupeConfig {
	return conf.DedupeConfig{
		Window:     120,
		RateLimit:  20,
		RateWindow: 60,
	}
}

func pricePayload() model.PriceAlertPayload {
	return model.PriceAlertPayload{
		AlertID:       "a-1",
		Symbol:        "BTC-USDT",
		Condition:     model.CondCrossUp,
		TargetPrice:   10000,
		ObservedPrice: 10001.5,
		TriggeredAt:   time.Now().UnixMilli(),
	}
}

func TestAdmitDuplicateWithinWindow(t *testing.T) {
	store := newFakeStore()
	d := New(store, testConfig())
	ctx := context.Background()

	fp1, err := d.Admit(ctx, "u1", pricePayload())
	if err != nil {
		t.Fatalf("first admit should pass: %v", err)
	}

	// 同一规则再次触发，观察价和时间戳不同也要算同一个事件
	p2 := pricePayload()
	p2.ObservedPrice = 10002.3
	p2.TriggeredAt = time.Now().Add(time.Second).UnixMilli()

	fp2, err := d.Admit(ctx, "u1", p2)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second admit should be duplicate, got %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprints should match: %s vs %s", fp1, fp2)
	}
}

func TestAdmitAgainAfterWindow(t *testing.T) {
	store := newFakeStore()
	d := New(store, testConfig())
	ctx := context.Background()

	if _, err := d.Admit(ctx, "u1", pricePayload()); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	// 窗口过期后同一事件重新放行
	store.advance(121 * time.Second)
	if _, err := d.Admit(ctx, "u1", pricePayload()); err != nil {
		t.Fatalf("admit after window should pass: %v", err)
	}
}

func TestAdmitDifferentUsersIndependent(t *testing.T) {
	store := newFakeStore()
	d := New(store, testConfig())
	ctx := context.Background()

	if _, err := d.Admit(ctx, "u1", pricePayload()); err != nil {
		t.Fatalf("u1 admit: %v", err)
	}
	if _, err := d.Admit(ctx, "u2", pricePayload()); err != nil {
		t.Fatalf("u2 admit should not be deduped against u1: %v", err)
	}
}

func TestAdmitRateLimit(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.RateLimit = 3
	d := New(store, cfg)
	ctx := context.Background()

	// 4条互不相同的事件，第4条应被限流
	for i := 0; i < 3; i++ {
		p := pricePayload()
		p.TargetPrice = float64(1000 + i)
		if _, err := d.Admit(ctx, "u1", p); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	p := pricePayload()
	p.TargetPrice = 9999
	if _, err := d.Admit(ctx, "u1", p); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th admit should be rate limited, got %v", err)
	}

	// 限流窗口过去之后恢复
	store.advance(61 * time.Second)
	p.TargetPrice = 8888
	if _, err := d.Admit(ctx, "u1", p); err != nil {
		t.Fatalf("admit after rate window: %v", err)
	}
}

func TestFingerprintStable(t *testing.T) {
	d := New(newFakeStore(), testConfig())

	fp1 := d.Fingerprint("u1", pricePayload())
	fp2 := d.Fingerprint("u1", pricePayload())
	if fp1 != fp2 {
		t.Fatalf("same input should produce same fingerprint")
	}
	if d.Fingerprint("u2", pricePayload()) == fp1 {
		t.Fatalf("user id should be part of the fingerprint")
	}

	other := pricePayload()
	other.TargetPrice = 20000
	if d.Fingerprint("u1", other) == fp1 {
		t.Fatalf("target price should be part of the fingerprint")
	}
}

func TestPerKindWindowOverride(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.Windows = map[string]int{string(model.KindSystemNotice): 300}
	d := New(store, cfg)
	ctx := context.Background()

	notice := model.SystemNoticePayload{Title: "maintenance", Content: "tonight"}
	if _, err := d.Admit(ctx, "u1", notice); err != nil {
		t.Fatalf("first notice: %v", err)
	}

	// 过了默认窗口但没过 system_notice 的300秒窗口，仍然算重复
	store.advance(150 * time.Second)
	if _, err := d.Admit(ctx, "u1", notice); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("notice should still be deduped, got %v", err)
	}
}
