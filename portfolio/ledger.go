package portfolio

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/market"
)

// Ledger is the replay cash book, one balance per currency.
type Ledger struct {
	mu  sync.Mutex
	bal map[string]decimal.Decimal
}

func NewLedger(initial map[string]float64) *Ledger {
	l := &Ledger{bal: make(map[string]decimal.Decimal, len(initial))}
	for coin, v := range initial {
		l.bal[coin] = decimal.NewFromFloat(v)
	}
	return l
}

func (l *Ledger) Get(coin string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bal[coin].InexactFloat64()
}

func (l *Ledger) Credit(coin string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bal[coin] = l.bal[coin].Add(decimal.NewFromFloat(amount))
}

func (l *Ledger) Debit(coin string, amount float64) {
	l.Credit(coin, -amount)
}

// Snapshot returns the balances of coins, or of every currency when coins
// is empty.
func (l *Ledger) Snapshot(coins ...string) map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64)
	if len(coins) == 0 {
		for coin, v := range l.bal {
			out[coin] = v.InexactFloat64()
		}
		return out
	}
	for _, coin := range coins {
		out[coin] = l.bal[coin].InexactFloat64()
	}
	return out
}

func (l *Ledger) Currencies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.bal))
	for coin := range l.bal {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

// Restore brings the ledger up to date with recorded trades. Every trade
// carries the balance of its quote currency right after it was booked,
// so the latest trade per quote currency wins.
func (l *Ledger) Restore(trades []journal.TradeRecord) {
	sorted := append([]journal.TradeRecord(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range sorted {
		quote := market.Quote(rec.Pair)
		if v, ok := rec.Balance[quote]; ok {
			l.bal[quote] = decimal.NewFromFloat(v)
		}
	}
}
