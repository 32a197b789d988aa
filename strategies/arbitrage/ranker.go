package arbitrage

import (
	"sort"

	"github.com/michaelpento.lv/arbengine/types"
)

// Rank orders opportunities best first: highest net profit, then lowest
// combined price impact. Equal entries keep their input order.
func Rank(opps []*types.Opportunity) []*types.Opportunity {
	ranked := make([]*types.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o != nil && o.NetProfit != nil {
			ranked = append(ranked, o)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].NetProfit.Cmp(ranked[j].NetProfit); c != 0 {
			return c > 0
		}
		return ranked[i].CombinedImpactBps() < ranked[j].CombinedImpactBps()
	})
	return ranked
}

// Best returns the top ranked opportunity, or nil
func Best(opps []*types.Opportunity) *types.Opportunity {
	ranked := Rank(opps)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}
