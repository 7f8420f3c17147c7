package fees

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeView struct {
	debt    map[string]decimal.Decimal
	weights map[string]int64
}

func (f fakeView) StableDebt(asset string) decimal.Decimal { return f.debt[asset] }

func (f fakeView) TotalStableDebt() decimal.Decimal {
	total := decimal.Zero
	for _, v := range f.debt {
		total = total.Add(v)
	}
	return total
}

func (f fakeView) Weight(asset string) int64 { return f.weights[asset] }

func (f fakeView) TotalWeight() int64 {
	var total int64
	for _, w := range f.weights {
		total += w
	}
	return total
}

type feeCase struct {
	delta     string
	base, tax int64
	increment bool
	want      int64
}

func runCases(t *testing.T, v fakeView, cases []feeCase) {
	t.Helper()
	for _, c := range cases {
		got := BasisPoints(v, true, "BNB", d(c.delta), c.base, c.tax, c.increment)
		if got != c.want {
			t.Errorf("BasisPoints(delta=%s, base=%d, tax=%d, inc=%v) = %d, want %d",
				c.delta, c.base, c.tax, c.increment, got, c.want)
		}
	}
}

// --- Single asset at target ---

func TestBasisPoints_AtTarget(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("299100")},
		weights: map[string]int64{"BNB": 10000},
	}
	if got := TargetDebt(v, "BNB"); !got.Equal(d("299100")) {
		t.Fatalf("expected target 299100, got %s", got)
	}
	runCases(t, v, []feeCase{
		{"10000", 100, 50, true, 100},
		{"50000", 100, 50, true, 104},
		{"10000", 100, 50, false, 100},
		{"50000", 100, 50, false, 104},
		{"10000", 50, 100, true, 51},
		{"50000", 50, 100, true, 58},
		{"10000", 50, 100, false, 51},
		{"50000", 50, 100, false, 58},
	})
}

// --- Over-weight asset: adding taxes, removing rebates ---

func TestBasisPoints_OverWeight(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("299100")},
		weights: map[string]int64{"BNB": 10000, "DAI": 10000},
	}
	if got := TargetDebt(v, "DAI"); !got.Equal(d("149550")) {
		t.Fatalf("expected DAI target 149550, got %s", got)
	}
	runCases(t, v, []feeCase{
		{"10000", 100, 50, true, 150},
		{"50000", 100, 50, true, 150},
		{"200000", 100, 50, true, 150},
		{"10000", 100, 50, false, 50},
		{"200000", 100, 50, false, 50},
		{"250000", 100, 50, false, 50},
		// overshooting past zero is no longer an improvement
		{"1000000", 100, 50, false, 150},
	})
}

// --- Under-weight asset: adding rebates, removing taxes ---

func TestBasisPoints_UnderWeight(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("299100"), "DAI": d("199800")},
		weights: map[string]int64{"BNB": 30000, "DAI": 10000},
	}
	if got := TargetDebt(v, "BNB"); !got.Equal(d("374175")) {
		t.Fatalf("expected BNB target 374175, got %s", got)
	}
	if got := TargetDebt(v, "DAI"); !got.Equal(d("124725")) {
		t.Fatalf("expected DAI target 124725, got %s", got)
	}
	runCases(t, v, []feeCase{
		{"10000", 100, 50, true, 90},
		{"50000", 100, 50, true, 90},
		{"100000", 100, 50, true, 90},
		{"10000", 100, 50, false, 110},
		{"50000", 100, 50, false, 113},
		{"100000", 100, 50, false, 116},
	})
}

func TestBasisPoints_RebateFloorsAtZero(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("894304"), "DAI": d("199800")},
		weights: map[string]int64{"BNB": 5000, "DAI": 10000},
	}
	if got := TargetDebt(v, "BNB"); !got.Floor().Equal(d("364701")) {
		t.Fatalf("expected BNB target 364701, got %s", got)
	}
	runCases(t, v, []feeCase{
		{"10000", 100, 50, true, 150},
		{"10000", 100, 50, false, 28},
		{"800000", 100, 50, false, 28},
		{"10000", 50, 100, true, 150},
		{"10000", 50, 100, false, 0},
		{"500000", 50, 100, false, 0},
	})
}

func TestBasisPoints_NoTargetOrStatic(t *testing.T) {
	empty := fakeView{debt: map[string]decimal.Decimal{}, weights: map[string]int64{"BNB": 10000}}
	if got := BasisPoints(empty, true, "BNB", d("1000"), 30, 50, true); got != 30 {
		t.Errorf("expected base fee with zero target, got %d", got)
	}
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("299100")},
		weights: map[string]int64{"BNB": 10000, "DAI": 10000},
	}
	if got := BasisPoints(v, false, "BNB", d("200000"), 30, 50, true); got != 30 {
		t.Errorf("expected base fee with dynamic fees off, got %d", got)
	}
}

func TestBasisPoints_Bounded(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("1"), "DAI": d("1000000")},
		weights: map[string]int64{"BNB": 1, "DAI": 100000},
	}
	for _, delta := range []string{"1", "1000", "1000000000"} {
		for _, inc := range []bool{true, false} {
			got := BasisPoints(v, true, "BNB", d(delta), 30, 50, inc)
			if got < 0 || got > 80 {
				t.Errorf("fee %d out of [0, 80] for delta=%s inc=%v", got, delta, inc)
			}
		}
	}
}

func TestSwapBasisPoints_TakesWorseLeg(t *testing.T) {
	v := fakeView{
		debt:    map[string]decimal.Decimal{"BNB": d("299100"), "DAI": d("0")},
		weights: map[string]int64{"BNB": 10000, "DAI": 10000},
	}
	cfg := model.DefaultFeeConfig()
	cfg.SwapFeeBps, cfg.TaxBps = 30, 50

	// BNB in (over-weight, taxed), DAI out (nothing to redeem, taxed)
	got := SwapBasisPoints(v, cfg, "BNB", "DAI", d("10000"), false)
	if got != 80 {
		t.Errorf("expected 80, got %d", got)
	}
	// DAI in (under-weight, rebate) vs BNB out (over-weight, rebate)
	got = SwapBasisPoints(v, cfg, "DAI", "BNB", d("10000"), false)
	if got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestMarginFee(t *testing.T) {
	cfg := model.DefaultFeeConfig()
	if got := MarginFee(cfg, d("1000")); !got.Equal(d("1")) {
		t.Errorf("expected 1, got %s", got)
	}
	if got := MarginFee(cfg, decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
}
