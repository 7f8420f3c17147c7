package model

import (
	"errors"
	"testing"
)

func TestParsePositionKey_Valid(t *testing.T) {
	k, err := ParsePositionKey("alice:USDC:BTC:short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Account != "alice" {
		t.Errorf("expected account=alice, got %s", k.Account)
	}
	if k.CollateralAsset != "USDC" || k.IndexAsset != "BTC" {
		t.Errorf("unexpected assets %s/%s", k.CollateralAsset, k.IndexAsset)
	}
	if k.IsLong {
		t.Error("expected short side")
	}
}

func TestParsePositionKey_RoundTrip(t *testing.T) {
	k := PositionKey{Account: "0xabc", CollateralAsset: "ETH", IndexAsset: "ETH", IsLong: true}
	got, err := ParsePositionKey(k.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != k {
		t.Errorf("expected %+v, got %+v", k, got)
	}
}

func TestParsePositionKey_Invalid(t *testing.T) {
	tests := []string{
		"",
		"alice",
		"alice:USDC:BTC",
		"alice:USDC:BTC:sideways",
		"alice:usdc:BTC:long", // lower-case asset
		"a b:USDC:BTC:long",
	}
	for _, s := range tests {
		_, err := ParsePositionKey(s)
		if !errors.Is(err, ErrInvalidPositionKey) {
			t.Errorf("expected ErrInvalidPositionKey for %q, got %v", s, err)
		}
	}
}

func TestPositionKey_DistinctSides(t *testing.T) {
	long := PositionKey{Account: "a", CollateralAsset: "BTC", IndexAsset: "BTC", IsLong: true}
	short := long
	short.IsLong = false

	m := map[PositionKey]int{long: 1, short: 2}
	if len(m) != 2 {
		t.Fatalf("expected two distinct keys, got %d", len(m))
	}
}

func TestValidateAsset(t *testing.T) {
	got, err := ValidateAsset(" btc ")
	if err != nil || got != "BTC" {
		t.Fatalf("expected BTC, got %q (%v)", got, err)
	}
	if _, err := ValidateAsset("BTC/USD"); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestSettingsClone_IsDeep(t *testing.T) {
	s := NewSettings("gov")
	s.Liquidators["bot"] = true
	c := s.Clone()
	c.Liquidators["other"] = true
	if s.Liquidators["other"] {
		t.Error("clone shares liquidator map with original")
	}
}
