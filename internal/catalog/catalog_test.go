package catalog

import "testing"

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if _, ok := c.Model("claude-opus-4-20250514"); !ok {
		t.Fatal("expected claude-opus-4-20250514 in catalog")
	}
	biz := c.Role("business")
	if biz.Name != "business" {
		t.Fatalf("expected business role, got %q", biz.Name)
	}
	if biz.MonthlyTokenBudget == nil || *biz.MonthlyTokenBudget != 200000 {
		t.Fatalf("unexpected business budget: %+v", biz.MonthlyTokenBudget)
	}
}

func TestRoleUnknownFallsBackToDefault(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	r := c.Role("nonexistent")
	if r.Name != "business" {
		t.Fatalf("expected fallback to business, got %q", r.Name)
	}
}

func TestAdminHasNoBudget(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	admin := c.Role("admin")
	if admin.MonthlyTokenBudget != nil {
		t.Fatalf("expected admin to have unlimited budget, got %+v", admin.MonthlyTokenBudget)
	}
}

func TestHighestTierPermitted(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	biz := c.Role("business")
	best, ok := c.HighestTierPermitted(biz)
	if !ok {
		t.Fatal("expected a permitted model")
	}
	if best != "claude-sonnet-4-20250514" {
		t.Fatalf("expected sonnet as highest tier for business, got %q", best)
	}
}

func TestMinimalCatalogRequiresDefaultRole(t *testing.T) {
	_, err := Parse([]byte("models: []\nroles: []\n"))
	if err == nil {
		t.Fatal("expected error when default role is missing")
	}
}
