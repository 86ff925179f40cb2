package toolexec

import (
	"fmt"

	"github.com/contenox/analyst/agenttypes"
)

// chart aggregates the series and adds a card for it to the board.
func (r *Registry) chart(req Request, p *agenttypes.CreateChart) Result {
	if len(req.Rows) == 0 {
		return failure("no_dataset", fmt.Errorf("no rows to chart"))
	}
	groups := map[string]float64{}
	counts := map[string]int{}
	var order []string
	for _, row := range req.Rows {
		key := fmt.Sprint(row[p.XColumn])
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
		if p.YColumn != "" {
			if f, ok := toFloat(row[p.YColumn]); ok {
				groups[key] += f
			}
		}
	}

	points := make([]map[string]any, 0, len(order))
	for _, k := range order {
		var y float64
		switch {
		case p.YColumn == "" || p.Aggregation == "count":
			y = float64(counts[k])
		case p.Aggregation == "avg" || p.Aggregation == "mean":
			y = groups[k] / float64(counts[k])
		default:
			y = groups[k]
		}
		points = append(points, map[string]any{"x": k, "y": y})
	}

	card := agenttypes.Card{ID: agenttypes.NewID("card"), Title: p.Title, Kind: p.ChartType}
	r.board.Add(card)
	return success(map[string]any{
		"cardId":    card.ID,
		"title":     card.Title,
		"chartType": p.ChartType,
		"points":    len(points),
		"series":    points,
	})
}
