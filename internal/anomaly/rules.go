package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/config"
	"github.com/cleared-dev/trustrecon/internal/model"
)

// Options holds rule thresholds.
type Options struct {
	LargeAmountMultiplier float64
	TrailingDays          int
	MinHistory            int
	DuplicateWindowDays   int
	StructuringWindowDays int
	StructuringMinCount   int
	BusinessHourStart     int
	BusinessHourEnd       int
	Location              *time.Location
	Weights               Weights
}

// OptionsFromConfig builds Options from the anomaly config section.
func OptionsFromConfig(c config.AnomalyConfig, loc *time.Location) Options {
	w := DefaultWeights()
	for k, v := range c.Weights {
		w[model.AnomalyCategory(k)] = v
	}
	if loc == nil {
		loc = time.UTC
	}
	return Options{
		LargeAmountMultiplier: c.LargeAmountMultiplier,
		TrailingDays:          c.TrailingDays,
		MinHistory:            c.MinHistory,
		DuplicateWindowDays:   c.DuplicateWindowDays,
		StructuringWindowDays: c.StructuringWindowDays,
		StructuringMinCount:   c.StructuringMinCount,
		BusinessHourStart:     c.BusinessHourStart,
		BusinessHourEnd:       c.BusinessHourEnd,
		Location:              loc,
		Weights:               w,
	}
}

// Finding is one rule hit on one transaction.
type Finding struct {
	TransactionID  string
	TrustAccountID string
	Category       model.AnomalyCategory
	Confidence     float64
	Details        string
}

// Detect runs every rule over one account's transactions and returns the union of findings,
// ordered by transaction then category.
func Detect(txns []model.TrustTransaction, opts Options) []Finding {
	txns = append([]model.TrustTransaction(nil), txns...)
	sort.SliceStable(txns, func(i, j int) bool { return postingLess(txns[i], txns[j]) })

	var out []Finding
	out = append(out, largeAmounts(txns, opts)...)
	out = append(out, structuring(txns, opts)...)
	out = append(out, duplicates(txns, opts)...)
	out = append(out, offHours(txns, opts)...)
	out = append(out, negativeBalances(txns)...)

	pos := make(map[string]int, len(txns))
	for i, t := range txns {
		pos[t.ID] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if pos[out[i].TransactionID] != pos[out[j].TransactionID] {
			return pos[out[i].TransactionID] < pos[out[j].TransactionID]
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func finding(t model.TrustTransaction, cat model.AnomalyCategory, confidence float64, details string) Finding {
	return Finding{
		TransactionID:  t.ID,
		TrustAccountID: t.TrustAccountID,
		Category:       cat,
		Confidence:     math.Round(confidence*100) / 100,
		Details:        details,
	}
}

// largeAmounts flags amounts over multiplier x the trailing average of earlier postings in the
// same category.
func largeAmounts(txns []model.TrustTransaction, opts Options) []Finding {
	var out []Finding
	for i, t := range txns {
		from := t.TransactionDate.AddDate(0, 0, -opts.TrailingDays)
		sum, n := decimal.Zero, 0
		for _, p := range txns[:i] {
			if p.EffectiveCategory() != t.EffectiveCategory() || p.TransactionDate.Before(from) {
				continue
			}
			sum = sum.Add(p.Amount.Abs())
			n++
		}
		if n == 0 || n < opts.MinHistory {
			continue
		}
		avg := sum.Div(decimal.NewFromInt(int64(n)))
		if avg.IsZero() {
			continue
		}
		ratio, _ := t.Amount.Abs().Div(avg).Float64()
		if ratio <= opts.LargeAmountMultiplier {
			continue
		}
		confidence := math.Min(1, ratio/(2*opts.LargeAmountMultiplier))
		out = append(out, finding(t, model.AnomalyLargeAmount, confidence,
			fmt.Sprintf("%s is %.1fx the %d-day average %s for %s", t.Amount.Abs().StringFixed(2), ratio, opts.TrailingDays, avg.StringFixed(2), t.EffectiveCategory())))
	}
	return out
}

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
	nearEdge = decimal.NewFromInt(950)
)

// nearRound reports amounts of at least 1,000 that are whole hundreds or within 50 below the
// next thousand.
func nearRound(a decimal.Decimal) bool {
	a = a.Abs()
	if a.LessThan(thousand) {
		return false
	}
	return a.Mod(hundred).IsZero() || a.Mod(thousand).GreaterThanOrEqual(nearEdge)
}

// structuring flags clusters of near-round postings by one client in one direction.
func structuring(txns []model.TrustTransaction, opts Options) []Finding {
	var out []Finding
	window := time.Duration(opts.StructuringWindowDays) * 24 * time.Hour
	for _, t := range txns {
		if !nearRound(t.Amount) {
			continue
		}
		count := 0
		for _, p := range txns {
			if p.ClientID != t.ClientID || p.Type() != t.Type() || !nearRound(p.Amount) {
				continue
			}
			if d := p.TransactionDate.Sub(t.TransactionDate); d <= window && d >= -window {
				count++
			}
		}
		if count < opts.StructuringMinCount {
			continue
		}
		confidence := math.Min(1, 0.5+0.1*float64(count-opts.StructuringMinCount))
		out = append(out, finding(t, model.AnomalyStructuring, confidence,
			fmt.Sprintf("%d near-round %ss for client %s within %d days", count, t.Type(), t.ClientID, opts.StructuringWindowDays)))
	}
	return out
}

// duplicates flags a posting repeating an earlier one's amount and payee within the window.
func duplicates(txns []model.TrustTransaction, opts Options) []Finding {
	var out []Finding
	window := time.Duration(opts.DuplicateWindowDays) * 24 * time.Hour
	for i, t := range txns {
		payee := normalizePayee(t.Description)
		if payee == "" {
			continue
		}
		for _, p := range txns[:i] {
			if !p.Amount.Equal(t.Amount) || normalizePayee(p.Description) != payee {
				continue
			}
			gap := t.TransactionDate.Sub(p.TransactionDate)
			if gap > window {
				continue
			}
			confidence := 0.8
			if gap == 0 {
				confidence = 1
			}
			out = append(out, finding(t, model.AnomalyDuplicate, confidence,
				fmt.Sprintf("same amount %s and payee as %s on %s", t.Amount.StringFixed(2), p.ID, p.TransactionDate.Format("2006-01-02"))))
			break
		}
	}
	return out
}

func normalizePayee(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// offHours flags postings entered on weekends or outside business hours.
func offHours(txns []model.TrustTransaction, opts Options) []Finding {
	var out []Finding
	for _, t := range txns {
		if t.CreatedAt.IsZero() {
			continue
		}
		local := t.CreatedAt.In(opts.Location)
		switch {
		case local.Weekday() == time.Saturday || local.Weekday() == time.Sunday:
			out = append(out, finding(t, model.AnomalyOffHours, 0.8,
				fmt.Sprintf("posted on %s at %s", local.Weekday(), local.Format("15:04 MST"))))
		case local.Hour() < opts.BusinessHourStart || local.Hour() >= opts.BusinessHourEnd:
			out = append(out, finding(t, model.AnomalyOffHours, 0.6,
				fmt.Sprintf("posted at %s, outside %02d:00-%02d:00", local.Format("15:04 MST"), opts.BusinessHourStart, opts.BusinessHourEnd)))
		}
	}
	return out
}

// negativeBalances flags disbursements after which the account balance is below zero.
func negativeBalances(txns []model.TrustTransaction) []Finding {
	var out []Finding
	balance := decimal.Zero
	for _, t := range txns {
		balance = balance.Add(t.Amount)
		if balance.IsNegative() && t.Amount.IsNegative() {
			out = append(out, finding(t, model.AnomalyNegativeBalance, 1,
				fmt.Sprintf("account balance %s after posting", balance.StringFixed(2))))
		}
	}
	return out
}

func postingLess(a, b model.TrustTransaction) bool {
	if !a.TransactionDate.Equal(b.TransactionDate) {
		return a.TransactionDate.Before(b.TransactionDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
