package money

import (
	"math/big"
	"testing"
	"time"
)

func mustMoney(t *testing.T, value string, currency Currency) Money {
	t.Helper()
	m, err := New(value, currency)
	if err != nil {
		t.Fatalf("New(%q, %q): %v", value, currency, err)
	}
	return m
}

func TestCurrency_DecimalPlaces(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"USD", 2},
		{"EUR", 2},
		{"JPY", 0},
		{"KRW", 0},
		{"VND", 0},
		{"BHD", 3},
		{"KWD", 3},
		{"OMR", 3},
	}
	for _, c := range cases {
		if got := NewCurrency(c.code).DecimalPlaces(); got != c.want {
			t.Errorf("DecimalPlaces(%s) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestMoney_AddCurrencyMismatch(t *testing.T) {
	usd := mustMoney(t, "100", "USD")
	eur := mustMoney(t, "100", "EUR")
	if _, err := usd.Add(eur); err == nil {
		t.Fatalf("expected currency mismatch error")
	}
}

func TestMoney_Round_Idempotent(t *testing.T) {
	m := mustMoney(t, "10.005", "USD")
	once := m.Round()
	twice := once.Round()
	if once.Rat().Cmp(twice.Rat()) != 0 {
		t.Errorf("rounding is not idempotent: once=%s twice=%s", once.DecimalString(), twice.DecimalString())
	}
	if places := once.Currency().DecimalPlaces(); places != 2 {
		t.Fatalf("unexpected decimal places %d", places)
	}
}

func TestFxRate_Convert_UsdToEurAtMid(t *testing.T) {
	pair := CurrencyPair{Base: "USD", Quote: "EUR"}
	rate := NewFxRate(pair, big.NewRat(919, 1000), big.NewRat(921, 1000), time.Minute, "TESTPROVIDER")
	// mid should be exactly 0.92
	if rate.Mid.Cmp(big.NewRat(92, 100)) != 0 {
		t.Fatalf("expected mid 0.92, got %s", rate.Mid.FloatString(4))
	}

	amount := mustMoney(t, "1000", "USD")
	converted, err := rate.Convert(amount)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := converted.DecimalString(); got != "920.00" {
		t.Errorf("converted amount = %s, want 920.00", got)
	}
}

func TestFxRate_SpreadBps(t *testing.T) {
	pair := CurrencyPair{Base: "USD", Quote: "EUR"}
	rate := NewFxRate(pair, big.NewRat(90, 100), big.NewRat(98, 100), time.Minute, "TEST")
	// mid = 0.94, spread = (0.98-0.90)/0.94 * 10000 ~= 851 bps
	if bps := rate.SpreadBpsInt(); bps < 840 || bps > 860 {
		t.Errorf("SpreadBpsInt() = %d, want ~851", bps)
	}
}
