package evaluator

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"alertflow/conf"
	"alertflow/internal/dao"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"

	"github.com/bwmarrin/snowflake"
)

// ---------------- fakes ----------------

type fakeAlertDao struct {
	mu     sync.Mutex
	alerts map[string]*entity.Alert
}

func newFakeAlertDao(alerts ...entity.Alert) *fakeAlertDao {
	d := &fakeAlertDao{alerts: make(map[string]*entity.Alert)}
	for i := range alerts {
		a := alerts[i]
		d.alerts[a.ID] = &a
	}
	return d
}

func (d *fakeAlertDao) FindActive(context.Context) ([]entity.Alert, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []entity.Alert
	for _, a := range d.alerts {
		if a.Status == model.StatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (d *fakeAlertDao) FindActiveBySymbols(ctx context.Context, symbols []string) ([]entity.Alert, error) {
	all, _ := d.FindActive(ctx)
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []entity.Alert
	for _, a := range all {
		if want[a.Symbol] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *fakeAlertDao) FindByUser(context.Context, string) ([]entity.Alert, error) {
	return nil, nil
}

func (d *fakeAlertDao) Create(_ context.Context, a *entity.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *a
	d.alerts[a.ID] = &cp
	return nil
}

func (d *fakeAlertDao) UpdateObserved(_ context.Context, id string, price float64, checkedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.alerts[id]; ok && a.Status == model.StatusActive {
		a.LastPrice = sql.NullFloat64{Float64: price, Valid: true}
		a.LastCheckedAt = sql.NullTime{Time: checkedAt, Valid: true}
	}
	return nil
}

func (d *fakeAlertDao) MarkTriggered(_ context.Context, id string, price float64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.alerts[id]
	if !ok || a.Status != model.StatusActive {
		return dao.ErrConflict
	}
	a.Status = model.StatusTriggered
	a.TriggerPrice = sql.NullFloat64{Float64: price, Valid: true}
	a.TriggeredAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (d *fakeAlertDao) CountByStatus(context.Context) (int64, int64, error) { return 0, 0, nil }

func (d *fakeAlertDao) PurgeTriggeredBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (d *fakeAlertDao) get(id string) entity.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.alerts[id]
}

type fakeSource struct {
	mu      sync.Mutex
	prices  map[string]float64
	errs    map[string]error
	fetches map[string]int
}

func newFakeSource(prices map[string]float64) *fakeSource {
	return &fakeSource{
		prices:  prices,
		errs:    make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (s *fakeSource) GetLatestQuote(_ context.Context, symbol string) (model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[symbol]++
	if err, ok := s.errs[symbol]; ok {
		return model.Quote{}, err
	}
	return model.Quote{Symbol: symbol, Price: s.prices[symbol], Ts: time.Now()}, nil
}

type fakeSink struct {
	mu    sync.Mutex
	items []model.NotificationItem
}

func (s *fakeSink) Enqueue(item model.NotificationItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func (s *fakeSink) all() []model.NotificationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.NotificationItem{}, s.items...)
}

// ---------------- helpers ----------------

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func newEvaluator(t *testing.T, d *fakeAlertDao, src *fakeSource, sink *fakeSink) *Evaluator {
	t.Helper()
	cfg := conf.EvaluatorConfig{Interval: 60, Parallelism: 4}
	return New(d, src, sink, nil, testNode(t), cfg, 3*time.Second)
}

func activeAlert(id, user, symbol, cond string, target float64, last float64, hasLast bool) entity.Alert {
	a := entity.Alert{
		ID:          id,
		UserID:      user,
		Symbol:      symbol,
		Condition:   cond,
		TargetPrice: target,
		Status:      model.StatusActive,
	}
	if hasLast {
		a.LastPrice = sql.NullFloat64{Float64: last, Valid: true}
	}
	return a
}

// ---------------- tests ----------------

func TestConditionMet(t *testing.T) {
	last := func(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
	noLast := sql.NullFloat64{}

	cases := []struct {
		name    string
		cond    model.Condition
		last    sql.NullFloat64
		current float64
		target  float64
		want    bool
	}{
		{"above hit", model.CondAbove, noLast, 10.1, 10.0, true},
		{"above miss", model.CondAbove, noLast, 9.9, 10.0, false},
		{"below hit", model.CondBelow, noLast, 9.9, 10.0, true},
		{"below equal miss", model.CondBelow, noLast, 10.0, 10.0, false},
		// 上穿：last=9.9 current=10.1 穿过10.0
		{"cross up hit", model.CondCrossUp, last(9.9), 10.1, 10.0, true},
		// 没有穿越：last=10.1 current=10.2 都在目标价之上
		{"cross up no crossing", model.CondCrossUp, last(10.1), 10.2, 10.0, false},
		// 首次检查没有last，不算穿越
		{"cross up no last", model.CondCrossUp, noLast, 10.1, 10.0, false},
		{"cross down hit", model.CondCrossDown, last(10.1), 9.9, 10.0, true},
		{"cross down no crossing", model.CondCrossDown, last(9.8), 9.7, 10.0, false},
	}
	for _, c := range cases {
		if got := conditionMet(c.cond, c.last, c.current, c.target); got != c.want {
			t.Errorf("%s: conditionMet=%v want %v", c.name, got, c.want)
		}
	}
}

func TestRunCycleTriggersOnce(t *testing.T) {
	d := newFakeAlertDao(
		activeAlert("a1", "u1", "BTC-USDT", string(model.CondCrossUp), 10000, 9990, true),
	)
	src := newFakeSource(map[string]float64{"BTC-USDT": 10010})
	sink := &fakeSink{}
	e := newEvaluator(t, d, src, sink)

	e.RunCycle(context.Background())

	items := sink.all()
	if len(items) != 1 {
		t.Fatalf("expected 1 trigger event, got %d", len(items))
	}
	if items[0].UserID != "u1" || items[0].Priority != model.PriorityHigh || !items[0].Dedupe {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if got := d.get("a1"); got.Status != model.StatusTriggered || got.TriggerPrice.Float64 != 10010 {
		t.Fatalf("alert should be terminal triggered with price: %+v", got)
	}

	// 触发是终态：后续周期不再产出事件
	e.RunCycle(context.Background())
	e.RunCycle(context.Background())
	if len(sink.all()) != 1 {
		t.Fatalf("triggered alert fired again: %d events", len(sink.all()))
	}
}

func TestRunCycleFetchesOncePerSymbol(t *testing.T) {
	var alerts []entity.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts,
			activeAlert("btc-"+string(rune('a'+i)), "u1", "BTC-USDT", string(model.CondAbove), 1e9, 0, false),
			activeAlert("eth-"+string(rune('a'+i)), "u2", "ETH-USDT", string(model.CondAbove), 1e9, 0, false),
		)
	}
	d := newFakeAlertDao(alerts...)
	src := newFakeSource(map[string]float64{"BTC-USDT": 50000, "ETH-USDT": 3000})
	e := newEvaluator(t, d, src, &fakeSink{})

	e.RunCycle(context.Background())

	// 10条提醒2个交易对，行情只能拉2次
	if src.fetches["BTC-USDT"] != 1 || src.fetches["ETH-USDT"] != 1 {
		t.Fatalf("expected exactly 1 fetch per symbol, got %+v", src.fetches)
	}
}

func TestRunCycleSymbolFailureIsolated(t *testing.T) {
	d := newFakeAlertDao(
		activeAlert("a1", "u1", "BTC-USDT", string(model.CondAbove), 10000, 0, false),
		activeAlert("a2", "u2", "ETH-USDT", string(model.CondAbove), 2000, 0, false),
	)
	src := newFakeSource(map[string]float64{"ETH-USDT": 2500})
	src.errs["BTC-USDT"] = context.DeadlineExceeded
	sink := &fakeSink{}
	e := newEvaluator(t, d, src, sink)

	e.RunCycle(context.Background())

	// BTC行情失败不影响ETH的评估
	items := sink.all()
	if len(items) != 1 || items[0].UserID != "u2" {
		t.Fatalf("eth alert should still trigger, got %+v", items)
	}
	// 失败的交易对本周期不更新观察价
	if d.get("a1").LastPrice.Valid {
		t.Fatalf("failed symbol should not persist an observed price")
	}
}

func TestRunCyclePersistsObservedPrice(t *testing.T) {
	d := newFakeAlertDao(
		// 没触发也要写回观察价
		activeAlert("a1", "u1", "BTC-USDT", string(model.CondCrossUp), 99999, 0, false),
	)
	src := newFakeSource(map[string]float64{"BTC-USDT": 42000})
	e := newEvaluator(t, d, src, &fakeSink{})

	e.RunCycle(context.Background())

	got := d.get("a1")
	if !got.LastPrice.Valid || got.LastPrice.Float64 != 42000 {
		t.Fatalf("observed price not persisted: %+v", got.LastPrice)
	}
	if !got.LastCheckedAt.Valid {
		t.Fatalf("last checked at not persisted")
	}
	if got.Status != model.StatusActive {
		t.Fatalf("alert should stay active")
	}

	// 下个周期价格上穿，靠上周期写回的last判断
	src.mu.Lock()
	src.prices["BTC-USDT"] = 100001
	src.mu.Unlock()
	d.mu.Lock()
	d.alerts["a1"].TargetPrice = 99999
	d.mu.Unlock()

	sink2 := &fakeSink{}
	e2 := newEvaluator(t, d, src, sink2)
	e2.RunCycle(context.Background())
	if len(sink2.all()) != 1 {
		t.Fatalf("crossing should trigger on second cycle")
	}
}

// raceSource 在行情拉取期间把提醒标成触发，模拟另一个实例抢先完成状态流转
type raceSource struct {
	d *fakeAlertDao
}

func (s *raceSource) GetLatestQuote(ctx context.Context, symbol string) (model.Quote, error) {
	_ = s.d.MarkTriggered(ctx, "a1", 10050, time.Now())
	return model.Quote{Symbol: symbol, Price: 9000, Ts: time.Now()}, nil
}

func TestObservedWriteSkipsTriggeredAlert(t *testing.T) {
	d := newFakeAlertDao(
		activeAlert("a1", "u1", "BTC-USDT", string(model.CondAbove), 1e9, 0, false),
	)
	sink := &fakeSink{}
	cfg := conf.EvaluatorConfig{Interval: 60, Parallelism: 1}
	e := New(d, &raceSource{d: d}, sink, nil, testNode(t), cfg, 3*time.Second)

	e.RunCycle(context.Background())

	// 另一个实例已完成触发，本实例的观察价写回不能碰终态行
	got := d.get("a1")
	if got.Status != model.StatusTriggered || got.TriggerPrice.Float64 != 10050 {
		t.Fatalf("terminal row mutated: %+v", got)
	}
	if got.LastPrice.Valid {
		t.Fatalf("observed price written to a triggered alert: %+v", got.LastPrice)
	}
	if len(sink.all()) != 0 {
		t.Fatalf("no event expected, got %d", len(sink.all()))
	}
}

// blockingSource 卡住行情拉取，直到测试放行
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) GetLatestQuote(_ context.Context, symbol string) (model.Quote, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	return model.Quote{Symbol: symbol, Price: 1, Ts: time.Now()}, nil
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	d := newFakeAlertDao(
		activeAlert("a1", "u1", "BTC-USDT", string(model.CondAbove), 10, 0, false),
	)
	src := &blockingSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := conf.EvaluatorConfig{Interval: 1, Parallelism: 1}
	e := New(d, src, &fakeSink{}, nil, testNode(t), cfg, 5*time.Second)

	e.Start()
	select {
	case <-src.started:
	case <-time.After(3 * time.Second):
		t.Fatal("cycle never started")
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	// 周期还在行情拉取上卡着，Stop不能提前返回
	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(src.release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
}
