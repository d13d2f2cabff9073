package budget

import (
	"context"
	"testing"
	"time"

	"github.com/dynamoworks/gateway/internal/catalog"
)

func int64p(v int64) *int64 { return &v }

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return cat
}

func TestEvaluateBudgetUnlimited(t *testing.T) {
	pct, warning, exceeded := EvaluateBudget(1_000_000, nil)
	if pct != 0 || warning || exceeded {
		t.Fatalf("unlimited budget must never warn/exceed, got pct=%d warning=%v exceeded=%v", pct, warning, exceeded)
	}
}

func TestEvaluateBudgetWarningBoundary(t *testing.T) {
	limit := int64p(1000)

	if _, warning, _ := EvaluateBudget(799, limit); warning {
		t.Fatal("used=0.8*limit-1 must not warn")
	}
	if _, warning, _ := EvaluateBudget(800, limit); !warning {
		t.Fatal("used=0.8*limit must warn")
	}
}

func TestEvaluateBudgetExceededBoundary(t *testing.T) {
	limit := int64p(1000)

	if _, _, exceeded := EvaluateBudget(999, limit); exceeded {
		t.Fatal("used=limit-1 must not be exceeded")
	}
	if _, _, exceeded := EvaluateBudget(1000, limit); !exceeded {
		t.Fatal("used=limit must be exceeded")
	}
}

func TestEvaluateBudgetMonotone(t *testing.T) {
	limit := int64p(10_000)
	prevPct := -1
	for used := int64(0); used <= 10_000; used += 500 {
		pct, warning, exceeded := EvaluateBudget(used, limit)
		if pct < prevPct {
			t.Fatalf("percentUsed must be non-decreasing: used=%d pct=%d < prev=%d", used, pct, prevPct)
		}
		prevPct = pct
		if used >= *limit && !exceeded {
			t.Fatalf("used=%d >= limit must be exceeded", used)
		}
		if exceeded && !warning {
			t.Fatalf("exceeded implies warning at used=%d", used)
		}
	}
}

func TestEstimateCostUnknownModelIsZero(t *testing.T) {
	cat := mustCatalog(t)
	if cost := EstimateCost(cat, "no-such-model", 1000, 1000); cost != 0 {
		t.Fatalf("unknown model must cost 0, got %v", cost)
	}
}

func TestEstimateCostKnownModel(t *testing.T) {
	cat := mustCatalog(t)
	m, ok := cat.Model("claude-haiku-4-20250514")
	if !ok {
		t.Fatal("expected haiku model in default catalog")
	}
	got := EstimateCost(cat, m.ID, 1_000_000, 0)
	if got != m.InputCostPerMillion {
		t.Fatalf("1M input tokens should cost exactly the per-million rate, got %v want %v", got, m.InputCostPerMillion)
	}
}

type fakeRecorderStore struct {
	configured bool
	usage      map[string]int64
}

func newFakeRecorderStore() *fakeRecorderStore {
	return &fakeRecorderStore{configured: true, usage: make(map[string]int64)}
}

func (f *fakeRecorderStore) Configured() bool { return f.configured }

func (f *fakeRecorderStore) GetCurrentUsage(_ context.Context, userID, periodStart string) (int64, error) {
	return f.usage[userID+"|"+periodStart], nil
}

func (f *fakeRecorderStore) RecordUsage(_ context.Context, p RecordUsageParams) error {
	key := p.UserID + "|" + p.PeriodStart
	f.usage[key] += int64(p.InputTokens + p.OutputTokens)
	return nil
}

func TestRecordUsageThenGetUserBudgetIsMonotone(t *testing.T) {
	ctx := context.Background()
	cat := mustCatalog(t)
	store := newFakeRecorderStore()
	svc := New(store, cat)

	before, err := svc.GetUserBudget(ctx, "alice", "business")
	if err != nil {
		t.Fatalf("GetUserBudget: %v", err)
	}

	if err := svc.RecordUsage(ctx, RecordUsageInput{
		UserID:       "alice",
		UserEmail:    "alice@example.com",
		Role:         "business",
		Model:        "claude-haiku-4-20250514",
		Category:     "general_qa",
		InputTokens:  500,
		OutputTokens: 200,
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	after, err := svc.GetUserBudget(ctx, "alice", "business")
	if err != nil {
		t.Fatalf("GetUserBudget: %v", err)
	}
	if after.CurrentUsage < before.CurrentUsage+700 {
		t.Fatalf("expected currentUsage to grow by at least 700, before=%d after=%d", before.CurrentUsage, after.CurrentUsage)
	}
}

func TestRecordUsageNoopWhenStoreNotConfigured(t *testing.T) {
	ctx := context.Background()
	cat := mustCatalog(t)
	store := newFakeRecorderStore()
	store.configured = false
	svc := New(store, cat)

	if err := svc.RecordUsage(ctx, RecordUsageInput{UserID: "bob", Role: "business"}); err != nil {
		t.Fatalf("RecordUsage against unconfigured store must no-op, got err: %v", err)
	}
}

func TestCurrentPeriodStartIsFirstOfMonth(t *testing.T) {
	got := CurrentPeriodStart(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	if got != "2026-07-01" {
		t.Fatalf("got %q, want 2026-07-01", got)
	}
}

func TestNextResetDateRollsOverYear(t *testing.T) {
	got := NextResetDate(time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC))
	if got != "2027-01-01" {
		t.Fatalf("got %q, want 2027-01-01", got)
	}
}
