/*
Package factory builds treasury rule-sets from JSON configuration.

PURPOSE:
  The accounting formulas are fixed code, but their parameters are not: the
  national fund percentage, the reconciliation tolerances, the designated
  fund categories and which fund each one remits to, and the operating
  expense categories. This package parses and validates that configuration
  and provides the production defaults.

VALIDATION:
  Incoming JSON is validated with go-playground/validator struct tags before
  conversion, so a malformed rule-set fails at load time, not at the first
  report approval.

USAGE:
  rules := factory.DefaultRules()
  // or
  rules, err := factory.ParseRules(configJSON)

SEE ALSO:
  - report/derive.go: consumes the percentage and category sets
  - report/workflow.go: consumes the tolerances
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ipupy/treasury-engine/ledger"
)

// =============================================================================
// RULES - Parsed, ready-to-use rule-set
// =============================================================================

type Rules struct {
	// NationalPercent is the share of tithes + offerings remitted to the
	// national fund, as a percentage (10 means 10%).
	NationalPercent decimal.Decimal

	// DonorTolerance bounds |donor sum - declared tithes| on submission.
	DonorTolerance ledger.Amount

	// DepositTolerance bounds |deposit - expected remittance| on approval.
	DepositTolerance ledger.Amount

	// NationalFundID receives the national contribution rows.
	NationalFundID ledger.FundID

	// DesignatedFunds maps each designated category to the fund it remits to.
	DesignatedFunds map[string]ledger.FundID

	// ExpenseCategories is the fixed set of operating expense categories.
	ExpenseCategories []string
}

// DesignatedCategories returns the category labels in stable order.
func (r Rules) DesignatedCategories() []string {
	cats := make([]string, 0, len(r.DesignatedFunds))
	for c := range r.DesignatedFunds {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// IsExpenseCategory reports whether the label is a configured expense category.
func (r Rules) IsExpenseCategory(label string) bool {
	for _, c := range r.ExpenseCategories {
		if c == label {
			return true
		}
	}
	return false
}

// DefaultRules returns the production rule-set.
func DefaultRules() Rules {
	return Rules{
		NationalPercent:  decimal.NewFromInt(10),
		DonorTolerance:   ledger.NewAmount(1),
		DepositTolerance: ledger.NewAmount(100),
		NationalFundID:   "fund-nacional",
		DesignatedFunds: map[string]ledger.FundID{
			"misiones":       "fund-misiones",
			"apy":            "fund-apy",
			"caballeros":     "fund-caballeros",
			"damas":          "fund-damas",
			"jovenes":        "fund-jovenes",
			"ninos":          "fund-ninos",
			"lazos_amor":     "fund-lazos-amor",
			"mision_posible": "fund-mision-posible",
		},
		ExpenseCategories: []string{"energy", "water", "trash", "supplies", "other"},
	}
}

// =============================================================================
// JSON SHAPE
// =============================================================================

// RulesJSON is the wire shape of a rule-set.
type RulesJSON struct {
	NationalPercent   float64           `json:"national_fund_percent" validate:"gt=0,lte=100"`
	DonorTolerance    int64             `json:"donor_tolerance" validate:"gte=0"`
	DepositTolerance  int64             `json:"deposit_tolerance" validate:"gte=0"`
	NationalFundID    string            `json:"national_fund_id" validate:"required"`
	DesignatedFunds   map[string]string `json:"designated_funds" validate:"required,min=1,dive,required"`
	ExpenseCategories []string          `json:"expense_categories" validate:"required,min=1,dive,required"`
}

var validate = validator.New()

// ParseRules parses and validates a JSON rule-set.
func ParseRules(data []byte) (Rules, error) {
	var raw RulesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Rules{}, fmt.Errorf("invalid rules JSON: %w", err)
	}
	if err := validate.Struct(raw); err != nil {
		return Rules{}, fmt.Errorf("invalid rules: %w", err)
	}

	rules := Rules{
		NationalPercent:   decimal.NewFromFloat(raw.NationalPercent),
		DonorTolerance:    ledger.NewAmount(raw.DonorTolerance),
		DepositTolerance:  ledger.NewAmount(raw.DepositTolerance),
		NationalFundID:    ledger.FundID(raw.NationalFundID),
		DesignatedFunds:   make(map[string]ledger.FundID, len(raw.DesignatedFunds)),
		ExpenseCategories: append([]string(nil), raw.ExpenseCategories...),
	}
	for cat, fund := range raw.DesignatedFunds {
		rules.DesignatedFunds[cat] = ledger.FundID(fund)
	}
	return rules, nil
}
