package feature

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func testTx() *domain.Transaction {
	// Wednesday 2025-06-11 14:30 UTC
	ts := time.Date(2025, 6, 11, 14, 30, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:         "tx-001",
		TenantID:   "tenant-001",
		UserID:     "user-001",
		Amount:     125.50,
		Currency:   "USD",
		MerchantID: "merchant-001",
		DeviceID:   "device-001",
		IPAddress:  "10.0.0.1",
		Timestamp:  ts,
	}
}

func testHistory(n int, base time.Time) []*domain.Transaction {
	history := make([]*domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		history = append(history, &domain.Transaction{
			ID:         fmt.Sprintf("hist-%d", i),
			UserID:     "user-001",
			Amount:     100.0 + float64(i),
			Currency:   "USD",
			MerchantID: "merchant-001",
			DeviceID:   "device-001",
			IPAddress:  "10.0.0.1",
			Timestamp:  base.Add(-time.Duration(i+1) * 10 * time.Minute),
		})
	}
	return history
}

func TestBuildDeterminism(t *testing.T) {
	b := NewBuilder(50)
	tx := testTx()
	history := testHistory(10, tx.Timestamp)

	v1, err := b.Build(tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := b.Build(tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != v2 {
		t.Errorf("identical inputs produced different vectors:\n%v\n%v", v1, v2)
	}
}

func TestBuildColdStart(t *testing.T) {
	b := NewBuilder(50)
	tx := testTx()

	v, err := b.Build(tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v[0] != tx.Amount {
		t.Errorf("amount feature = %v, want %v", v[0], tx.Amount)
	}
	if v[2] != 0 {
		t.Errorf("zscore without history = %v, want 0", v[2])
	}
	if v[3] != 0 {
		t.Errorf("velocity count without history = %v, want 0", v[3])
	}
	if v[5] != 0.5 {
		t.Errorf("merchant rarity without history = %v, want 0.5", v[5])
	}
	if v[7] != 1.0 {
		t.Errorf("device novelty without history = %v, want 1.0", v[7])
	}
	if v[8] != 1.0 {
		t.Errorf("ip novelty without history = %v, want 1.0", v[8])
	}
}

func TestBuildHistoryFeatures(t *testing.T) {
	b := NewBuilder(50)
	tx := testTx()
	history := testHistory(5, tx.Timestamp)

	v, err := b.Build(tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("Velocity", func(t *testing.T) {
		// All five history entries are inside the one hour window.
		if v[3] != 5 {
			t.Errorf("velocity count = %v, want 5", v[3])
		}
		if v[4] != 1.0 {
			t.Errorf("velocity ratio = %v, want 1.0", v[4])
		}
	})

	t.Run("MerchantShare", func(t *testing.T) {
		// Every history entry hits the same merchant.
		if v[5] != 0 {
			t.Errorf("merchant rarity = %v, want 0", v[5])
		}
		if v[6] != 1.0 {
			t.Errorf("merchant share = %v, want 1.0", v[6])
		}
	})

	t.Run("KnownEntities", func(t *testing.T) {
		if v[7] != 0 {
			t.Errorf("device novelty for known device = %v, want 0", v[7])
		}
		if v[8] != 0 {
			t.Errorf("ip novelty for known ip = %v, want 0", v[8])
		}
	})
}

func TestBuildNovelEntities(t *testing.T) {
	b := NewBuilder(50)
	tx := testTx()
	tx.DeviceID = "device-brand-new"
	tx.IPAddress = "192.168.9.9"
	history := testHistory(5, tx.Timestamp)

	v, err := b.Build(tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v[7] != 1.0 {
		t.Errorf("device novelty = %v, want 1.0", v[7])
	}
	if v[8] != 1.0 {
		t.Errorf("ip novelty = %v, want 1.0", v[8])
	}
}

func TestBuildWindowCap(t *testing.T) {
	b := NewBuilder(3)
	tx := testTx()
	// 10 entries, only 3 should be consumed.
	history := testHistory(10, tx.Timestamp)

	v10, err := b.Build(tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v3, err := b.Build(tx, history[:3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v10 != v3 {
		t.Errorf("window cap not applied: full history and capped history differ")
	}
}

func TestBuildTemporalEncoding(t *testing.T) {
	b := NewBuilder(50)

	t.Run("Weekday", func(t *testing.T) {
		tx := testTx() // Wednesday
		v, err := b.Build(tx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v[11] != float64(time.Wednesday) {
			t.Errorf("day of week = %v, want %v", v[11], float64(time.Wednesday))
		}
		if v[12] != 0 {
			t.Errorf("weekend flag = %v, want 0", v[12])
		}
	})

	t.Run("Weekend", func(t *testing.T) {
		tx := testTx()
		tx.Timestamp = time.Date(2025, 6, 14, 14, 30, 0, 0, time.UTC) // Saturday
		v, err := b.Build(tx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v[12] != 1 {
			t.Errorf("weekend flag = %v, want 1", v[12])
		}
	})
}

func TestBuildValidation(t *testing.T) {
	b := NewBuilder(50)

	cases := []struct {
		name   string
		mutate func(*domain.Transaction)
	}{
		{"MissingUser", func(tx *domain.Transaction) { tx.UserID = "" }},
		{"NegativeAmount", func(tx *domain.Transaction) { tx.Amount = -1 }},
		{"NaNAmount", func(tx *domain.Transaction) { tx.Amount = math.NaN() }},
		{"ZeroTimestamp", func(tx *domain.Transaction) { tx.Timestamp = time.Time{} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := testTx()
			tc.mutate(tx)
			_, err := b.Build(tx, nil)
			if !errors.Is(err, domain.ErrFeatureBuild) {
				t.Errorf("expected ErrFeatureBuild, got %v", err)
			}
		})
	}

	t.Run("NilTransaction", func(t *testing.T) {
		_, err := b.Build(nil, nil)
		if !errors.Is(err, domain.ErrFeatureBuild) {
			t.Errorf("expected ErrFeatureBuild, got %v", err)
		}
	})
}

func TestEncodeCurrencyStable(t *testing.T) {
	if encodeCurrency("USD") != 1 {
		t.Errorf("USD code = %v, want 1", encodeCurrency("USD"))
	}
	if encodeCurrency("XYZ") != encodeCurrency("XYZ") {
		t.Error("unknown currency encoding is not stable")
	}
	if encodeCurrency("XYZ") == encodeCurrency("ZYX") && encodeCurrency("XYZ") == encodeCurrency("ABC") {
		t.Error("unknown currency encoding collapses all codes to one value")
	}
}
