// Package feature derives fixed-shape feature vectors from
// transactions and short-term user history.
package feature

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Velocity windows, relative to the transaction's own timestamp so
// that identical inputs always produce identical vectors.
const (
	shortWindow = time.Hour
	longWindow  = 24 * time.Hour
)

// Cold-start defaults for history-dependent features. A brand new
// user scores rarity at the neutral midpoint and full novelty.
const (
	neutralRarity = 0.5
	fullNovelty   = 1.0
)

// Builder produces feature vectors of dimensionality domain.FeatureDim.
type Builder struct {
	// windowSize caps the number of history transactions consumed.
	windowSize int
}

// NewBuilder creates a feature builder with the given history window cap.
func NewBuilder(windowSize int) *Builder {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Builder{windowSize: windowSize}
}

// Build derives a feature vector from one transaction and the user's
// prior transactions (newest first, size capped by the window).
// The window may be empty; all history-dependent features fall back to
// their cold-start defaults. No side effects, no wall-clock reads.
func (b *Builder) Build(tx *domain.Transaction, history []*domain.Transaction) (domain.FeatureVector, error) {
	var v domain.FeatureVector

	if tx == nil {
		return v, fmt.Errorf("%w: transaction is required", domain.ErrFeatureBuild)
	}
	if tx.UserID == "" {
		return v, fmt.Errorf("%w: user id is required", domain.ErrFeatureBuild)
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return v, fmt.Errorf("%w: amount is not finite", domain.ErrFeatureBuild)
	}
	if tx.Amount < 0 {
		return v, fmt.Errorf("%w: amount must be non-negative", domain.ErrFeatureBuild)
	}
	if tx.Timestamp.IsZero() {
		return v, fmt.Errorf("%w: timestamp is required", domain.ErrFeatureBuild)
	}

	if len(history) > b.windowSize {
		history = history[:b.windowSize]
	}

	v[0] = tx.Amount
	v[1] = math.Log1p(tx.Amount)
	v[2] = amountZScore(tx.Amount, history)

	short, long := velocityCounts(tx.Timestamp, history)
	v[3] = float64(short)
	if long > 0 {
		v[4] = float64(short) / float64(long)
	}

	v[5], v[6] = merchantProfile(tx.MerchantID, history)
	v[7] = novelty(tx.DeviceID, history, func(h *domain.Transaction) string { return h.DeviceID })
	v[8] = novelty(tx.IPAddress, history, func(h *domain.Transaction) string { return h.IPAddress })

	hour := float64(tx.Timestamp.UTC().Hour())
	v[9] = math.Sin(2 * math.Pi * hour / 24)
	v[10] = math.Cos(2 * math.Pi * hour / 24)

	weekday := tx.Timestamp.UTC().Weekday()
	v[11] = float64(weekday)
	if weekday == time.Saturday || weekday == time.Sunday {
		v[12] = 1
	}

	v[13] = encodeCurrency(tx.Currency)

	return v, nil
}

// WindowSize returns the configured history cap.
func (b *Builder) WindowSize() int {
	return b.windowSize
}

// amountZScore standardizes the amount against the history window.
// Fewer than two samples, or zero variance, yields 0 (cold start).
func amountZScore(amount float64, history []*domain.Transaction) float64 {
	if len(history) < 2 {
		return 0
	}

	var sum float64
	for _, h := range history {
		sum += h.Amount
	}
	mean := sum / float64(len(history))

	var sq float64
	for _, h := range history {
		d := h.Amount - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(history)-1))
	if std == 0 {
		return 0
	}

	return (amount - mean) / std
}

// velocityCounts counts history transactions inside the short and long
// windows preceding the transaction's timestamp.
func velocityCounts(at time.Time, history []*domain.Transaction) (short, long int) {
	for _, h := range history {
		age := at.Sub(h.Timestamp)
		if age < 0 {
			continue
		}
		if age <= shortWindow {
			short++
		}
		if age <= longWindow {
			long++
		}
	}
	return short, long
}

// merchantProfile returns (rarity, share) for the merchant within the
// window. Rarity is 1 - share; an empty window yields the neutral
// midpoint for rarity and zero share.
func merchantProfile(merchantID string, history []*domain.Transaction) (rarity, share float64) {
	if len(history) == 0 || merchantID == "" {
		return neutralRarity, 0
	}

	var seen int
	for _, h := range history {
		if h.MerchantID == merchantID {
			seen++
		}
	}
	share = float64(seen) / float64(len(history))
	return 1 - share, share
}

// novelty is 1 when the entity id was never seen in the window, 0 when
// it was. Empty ids and empty windows count as fully novel.
func novelty(id string, history []*domain.Transaction, get func(*domain.Transaction) string) float64 {
	if id == "" || len(history) == 0 {
		return fullNovelty
	}
	for _, h := range history {
		if get(h) == id {
			return 0
		}
	}
	return fullNovelty
}

// encodeCurrency maps an ISO 4217 code to a stable small numeric code.
// Unknown currencies hash onto a fixed residue range so that the same
// code always produces the same value.
func encodeCurrency(code string) float64 {
	switch code {
	case "USD":
		return 1
	case "EUR":
		return 2
	case "GBP":
		return 3
	case "JPY":
		return 4
	case "CHF":
		return 5
	}
	var h uint32
	for i := 0; i < len(code); i++ {
		h = h*31 + uint32(code[i])
	}
	return float64(6 + h%32)
}
