package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Method records how a pair was matched.
type Method string

const (
	MethodReference Method = "reference"
	MethodAmount    Method = "amount_date"
)

// Match pairs one ledger transaction with one statement row.
type Match struct {
	Ledger         model.TrustTransaction
	Statement      model.StatementTransaction
	StatementIndex int
	Method         Method
	DayDelta       int
}

// MatchSet is the outcome of matching, before anything is persisted.
type MatchSet struct {
	Matched            []Match
	UnmatchedLedger    []model.TrustTransaction
	UnmatchedStatement []model.StatementTransaction
}

// Pairs matches ledger candidates to statement rows. It is deterministic: the same inputs in any
// ledger order give the same pairs.
//
// Pass one pairs rows sharing a reference or check number with a ledger entry of the same amount,
// regardless of date. Pass two pairs the rest by exact amount within toleranceDays, taking the
// globally closest dates first. Each transaction is used at most once.
func Pairs(ledger []model.TrustTransaction, stmt []model.StatementTransaction, toleranceDays int) MatchSet {
	ledger = append([]model.TrustTransaction(nil), ledger...)
	sort.SliceStable(ledger, func(i, j int) bool { return ledgerLess(ledger[i], ledger[j]) })

	usedLedger := make([]bool, len(ledger))
	usedStmt := make([]bool, len(stmt))
	var matched []Match

	for si, st := range stmt {
		best := -1
		for li, lt := range ledger {
			if usedLedger[li] || !lt.Amount.Equal(st.Amount) || !sameIdentity(lt, st) {
				continue
			}
			if best == -1 || absDays(lt.TransactionDate, st.Date) < absDays(ledger[best].TransactionDate, st.Date) {
				best = li
			}
		}
		if best == -1 {
			continue
		}
		usedLedger[best], usedStmt[si] = true, true
		matched = append(matched, newMatch(ledger[best], st, si, MethodReference))
	}

	type pair struct{ li, si, days int }
	var pairs []pair
	for si, st := range stmt {
		if usedStmt[si] {
			continue
		}
		for li, lt := range ledger {
			if usedLedger[li] || !lt.Amount.Equal(st.Amount) {
				continue
			}
			if d := absDays(lt.TransactionDate, st.Date); d <= toleranceDays {
				pairs = append(pairs, pair{li, si, d})
			}
		}
	}
	// Ledger is already sorted, so li orders by ledger date then id.
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.days != b.days {
			return a.days < b.days
		}
		if a.si != b.si {
			return a.si < b.si
		}
		return a.li < b.li
	})
	for _, p := range pairs {
		if usedLedger[p.li] || usedStmt[p.si] {
			continue
		}
		usedLedger[p.li], usedStmt[p.si] = true, true
		matched = append(matched, newMatch(ledger[p.li], stmt[p.si], p.si, MethodAmount))
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].StatementIndex < matched[j].StatementIndex })

	set := MatchSet{Matched: matched}
	for li, lt := range ledger {
		if !usedLedger[li] {
			set.UnmatchedLedger = append(set.UnmatchedLedger, lt)
		}
	}
	for si, st := range stmt {
		if !usedStmt[si] {
			set.UnmatchedStatement = append(set.UnmatchedStatement, st)
		}
	}
	return set
}

func newMatch(lt model.TrustTransaction, st model.StatementTransaction, si int, m Method) Match {
	return Match{
		Ledger:         lt,
		Statement:      st,
		StatementIndex: si,
		Method:         m,
		DayDelta:       int(st.Date.Sub(lt.TransactionDate).Hours() / 24),
	}
}

// sameIdentity reports a shared non-empty reference or check number.
func sameIdentity(lt model.TrustTransaction, st model.StatementTransaction) bool {
	if r := normalizeRef(st.Reference); r != "" && r == normalizeRef(lt.Reference) {
		return true
	}
	if c := normalizeRef(st.CheckNumber); c != "" && c == normalizeRef(lt.CheckNumber) {
		return true
	}
	return false
}

func normalizeRef(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func ledgerLess(a, b model.TrustTransaction) bool {
	if !a.TransactionDate.Equal(b.TransactionDate) {
		return a.TransactionDate.Before(b.TransactionDate)
	}
	return a.ID < b.ID
}

func absDays(a, b time.Time) int {
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
