package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	params = Params{Interval: time.Second, RateFactor: 23}
)

func started(longs, shorts string) model.FundingInfo {
	info := Advance(model.NewFundingInfo("BTC"), t0, params)
	info.TotalLongSizes = d(longs)
	info.TotalShortSizes = d(shorts)
	return info
}

func TestAdvance_FirstCallStampsOnly(t *testing.T) {
	info := Advance(model.NewFundingInfo("BTC"), t0.Add(1500*time.Millisecond), params)
	if !info.LastFundingTime.Equal(t0.Add(time.Second)) {
		t.Errorf("expected stamp truncated to interval, got %v", info.LastFundingTime)
	}
	if !info.CumulativeLongFundingRate.IsZero() || !info.CumulativeShortFundingRate.IsZero() {
		t.Error("expected zero rates after first call")
	}
}

func TestAdvance_LongOnlyOneDay(t *testing.T) {
	info := started("1000", "0")
	info = Advance(info, t0.Add(24*time.Hour), params)

	// 86400 intervals * 23 / 1e9
	wantRate := d("0.0019872")
	if !info.CumulativeLongFundingRate.Equal(wantRate) {
		t.Errorf("expected long rate %s, got %s", wantRate, info.CumulativeLongFundingRate)
	}
	if !info.CumulativeShortFundingRate.IsZero() {
		t.Errorf("expected empty short side untouched, got %s", info.CumulativeShortFundingRate)
	}
	owed := PositionFunding(d("1000"), decimal.Zero, info.CumulativeLongFundingRate)
	if !owed.Equal(d("1.9872")) {
		t.Errorf("expected 1.9872 owed, got %s", owed)
	}
}

func TestAdvance_Neutrality(t *testing.T) {
	tests := []struct {
		name          string
		longs, shorts string
		elapsed       time.Duration
	}{
		{"longs heavy", "1000", "500", 100 * time.Second},
		{"shorts heavy", "300", "1200", time.Hour},
		{"uneven", "7", "3", 17 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := started(tt.longs, tt.shorts)
			info = Advance(info, t0.Add(tt.elapsed), params)

			paidByLongs := PositionFunding(d(tt.longs), decimal.Zero, info.CumulativeLongFundingRate)
			paidByShorts := PositionFunding(d(tt.shorts), decimal.Zero, info.CumulativeShortFundingRate)
			net := paidByLongs.Add(paidByShorts)
			if net.Abs().GreaterThan(d("0.000000000000000001")) {
				t.Errorf("funding not neutral: longs %s shorts %s", paidByLongs, paidByShorts)
			}
			if paidByLongs.IsZero() {
				t.Error("expected non-zero funding")
			}
		})
	}
}

func TestAdvance_Balanced(t *testing.T) {
	info := started("500", "500")
	info = Advance(info, t0.Add(time.Hour), params)
	if !info.CumulativeLongFundingRate.IsZero() || !info.CumulativeShortFundingRate.IsZero() {
		t.Error("balanced open interest should not move rates")
	}
	if !info.LastFundingTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected time advanced, got %v", info.LastFundingTime)
	}
}

func TestAdvance_WholeIntervalsOnly(t *testing.T) {
	p := Params{Interval: time.Hour, RateFactor: 100}
	info := Advance(model.NewFundingInfo("BTC"), t0, p)
	info.TotalLongSizes = d("100")

	info = Advance(info, t0.Add(90*time.Minute), p)
	if !info.LastFundingTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected last time at one interval, got %v", info.LastFundingTime)
	}
	first := info.CumulativeLongFundingRate

	// idempotent within the same interval
	again := Advance(info, t0.Add(100*time.Minute), p)
	if !again.CumulativeLongFundingRate.Equal(first) {
		t.Error("rate moved without a whole interval elapsing")
	}

	info = Advance(info, t0.Add(2*time.Hour), p)
	if !info.CumulativeLongFundingRate.Equal(first.Mul(d("2"))) {
		t.Errorf("expected doubled rate, got %s", info.CumulativeLongFundingRate)
	}
}

func TestPositionFunding_Signed(t *testing.T) {
	if got := PositionFunding(d("100"), d("0.5"), d("0.2")); !got.Equal(d("-30")) {
		t.Errorf("expected -30 received, got %s", got)
	}
	if got := PositionFunding(decimal.Zero, d("0"), d("1")); !got.IsZero() {
		t.Errorf("expected 0 for empty position, got %s", got)
	}
}

func TestOpenInterest(t *testing.T) {
	info := model.NewFundingInfo("BTC")
	info = IncreaseOpenInterest(info, true, d("10"))
	info = IncreaseOpenInterest(info, false, d("4"))
	info = DecreaseOpenInterest(info, true, d("15"))
	if !info.TotalLongSizes.IsZero() || !info.TotalShortSizes.Equal(d("4")) {
		t.Errorf("unexpected open interest %s/%s", info.TotalLongSizes, info.TotalShortSizes)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := (Params{}).Validate(); err != ErrInvalidInterval {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}
