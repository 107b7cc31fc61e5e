package factory_test

import (
	"testing"

	"github.com/ipupy/treasury-engine/factory"
)

func TestParseRules_Valid(t *testing.T) {
	rules, err := factory.ParseRules([]byte(`{
		"national_fund_percent": 10,
		"donor_tolerance": 1,
		"deposit_tolerance": 100,
		"national_fund_id": "fund-nacional",
		"designated_funds": {"misiones": "fund-misiones"},
		"expense_categories": ["energy", "water"]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rules.NationalFundID != "fund-nacional" {
		t.Errorf("national fund id: %s", rules.NationalFundID)
	}
	if rules.DesignatedFunds["misiones"] != "fund-misiones" {
		t.Errorf("designated mapping lost: %v", rules.DesignatedFunds)
	}
	if !rules.IsExpenseCategory("water") || rules.IsExpenseCategory("internet") {
		t.Error("expense category set wrong")
	}
}

func TestParseRules_Invalid(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"malformed json", `{`},
		{"zero percent", `{"national_fund_percent": 0, "donor_tolerance": 1, "deposit_tolerance": 100, "national_fund_id": "f", "designated_funds": {"a": "f"}, "expense_categories": ["x"]}`},
		{"percent above 100", `{"national_fund_percent": 150, "donor_tolerance": 1, "deposit_tolerance": 100, "national_fund_id": "f", "designated_funds": {"a": "f"}, "expense_categories": ["x"]}`},
		{"missing fund id", `{"national_fund_percent": 10, "donor_tolerance": 1, "deposit_tolerance": 100, "designated_funds": {"a": "f"}, "expense_categories": ["x"]}`},
		{"empty designated set", `{"national_fund_percent": 10, "donor_tolerance": 1, "deposit_tolerance": 100, "national_fund_id": "f", "designated_funds": {}, "expense_categories": ["x"]}`},
		{"negative tolerance", `{"national_fund_percent": 10, "donor_tolerance": -1, "deposit_tolerance": 100, "national_fund_id": "f", "designated_funds": {"a": "f"}, "expense_categories": ["x"]}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := factory.ParseRules([]byte(c.json)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestDesignatedCategories_StableOrder(t *testing.T) {
	rules := factory.DefaultRules()
	cats := rules.DesignatedCategories()
	if len(cats) != 8 {
		t.Fatalf("expected 8 categories, got %d", len(cats))
	}
	for i := 1; i < len(cats); i++ {
		if cats[i-1] >= cats[i] {
			t.Fatalf("categories not sorted: %v", cats)
		}
	}
}
