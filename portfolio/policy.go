package portfolio

import (
	"time"

	"github.com/davidmag854/fpg-trading/strategy"
)

// Policy says when and where a strategy gets new instances.
type Policy struct {
	Name     string
	Active   bool
	Interval time.Duration
	Pairs    []string

	// Advanced policies tag new instances with the sides the per-pair
	// limits still allow. Other policies allow both sides and ignore the
	// limits.
	Advanced        bool
	MaxLongPerPair  int
	MaxShortPerPair int

	// Params override the strategy's declared field defaults.
	Params map[string]any
}

// PairCounts maps a pair to a number of instances.
type PairCounts map[string]int

// Counters are derived counts of long and short exposure, keyed by
// strategy name and then pair. An instance counts toward a side when it
// holds that position or is allowed to open it. Each policy's maxima are
// checked against its own strategy's counts only.
type Counters struct {
	Long  map[string]PairCounts
	Short map[string]PairCounts
}

func countInstances(insts []*strategy.Instance) Counters {
	c := Counters{Long: map[string]PairCounts{}, Short: map[string]PairCounts{}}
	for _, inst := range insts {
		if inst.Position == strategy.Long || inst.LongAllowed {
			bump(c.Long, inst.Name, inst.Pair)
		}
		if inst.Position == strategy.Short || inst.ShortAllowed {
			bump(c.Short, inst.Name, inst.Pair)
		}
	}
	return c
}

func bump(m map[string]PairCounts, name, pair string) {
	if m[name] == nil {
		m[name] = PairCounts{}
	}
	m[name][pair]++
}

// eligibility returns the sides a new instance of the policy's strategy
// on pair may open.
func (p Policy) eligibility(c Counters, pair string) (long, short bool) {
	if !p.Advanced {
		return true, true
	}
	return c.Long[p.Name][pair] < p.MaxLongPerPair, c.Short[p.Name][pair] < p.MaxShortPerPair
}

// admits reports whether inst fits under the limits given the counters of
// every other active instance.
func (p Policy) admits(c Counters, inst *strategy.Instance) bool {
	if !p.Advanced {
		return true
	}
	if (inst.Position == strategy.Long || inst.LongAllowed) && c.Long[p.Name][inst.Pair] >= p.MaxLongPerPair {
		return false
	}
	if (inst.Position == strategy.Short || inst.ShortAllowed) && c.Short[p.Name][inst.Pair] >= p.MaxShortPerPair {
		return false
	}
	return true
}

func (p Policy) due(last, now time.Time, grace time.Duration) bool {
	if p.Interval <= 0 {
		return false
	}
	return now.Sub(last)-grace >= p.Interval
}
