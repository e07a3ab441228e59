package shipping

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable credits block. Cost is Amount / Shipments.
type Plan struct {
	ID        int
	Amount    decimal.Decimal
	Shipments int
	Cost      decimal.Decimal
}

// Credits returns the block a user receives when buying p.
func (p Plan) Credits() Credits {
	return Credits{Amount: p.Amount, Shipments: p.Shipments, Cost: p.Cost}
}

func newPlan(id int, amount int64, shipments int) Plan {
	a := decimal.NewFromInt(amount)
	return Plan{
		ID:        id,
		Amount:    a,
		Shipments: shipments,
		Cost:      a.Div(decimal.NewFromInt(int64(shipments))),
	}
}

var catalog = map[int]Plan{
	1: newPlan(1, 135, 30),
	2: newPlan(2, 160, 40),
	3: newPlan(3, 180, 60),
}

// LookupPlan returns the plan with the given id or *InvalidPlanError.
func LookupPlan(id int) (Plan, error) {
	p, ok := catalog[id]
	if !ok {
		return Plan{}, &InvalidPlanError{PlanID: id}
	}
	return p, nil
}

// Plans lists the catalog ordered by id.
func Plans() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
