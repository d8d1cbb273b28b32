package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"trade-import-service/internal/models"
)

// DuplicateGroup is a set of analyzed trades that look like the same
// execution exported twice. Duplicates are reported, never dropped.
type DuplicateGroup struct {
	Indexes []int    `json:"indexes"`
	IDs     []string `json:"ids"`
	Reason  string   `json:"reason"`
}

// DetectDuplicates groups trades sharing symbol, direction, entry time,
// quantity and PnL. Groups are ordered by their first trade; indexes within a
// group are ascending.
func DetectDuplicates(trades []models.CanonicalTrade) []DuplicateGroup {
	byKey := make(map[string]int)
	var groups []DuplicateGroup

	for i := range trades {
		key := duplicateKey(&trades[i])
		if g, ok := byKey[key]; ok {
			groups[g].Indexes = append(groups[g].Indexes, i)
			groups[g].IDs = append(groups[g].IDs, trades[i].ID)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, DuplicateGroup{
			Indexes: []int{i},
			IDs:     []string{trades[i].ID},
		})
	}

	duplicates := groups[:0]
	for _, g := range groups {
		if len(g.Indexes) < 2 {
			continue
		}
		t := &trades[g.Indexes[0]]
		g.Reason = fmt.Sprintf("%d trades with %s %s at %s, quantity %s, pnl %s",
			len(g.Indexes), t.Direction, t.Symbol, t.EntryDate,
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.Pnl, 'f', -1, 64))
		duplicates = append(duplicates, g)
	}
	if len(duplicates) == 0 {
		return nil
	}
	return duplicates
}

func duplicateKey(t *models.CanonicalTrade) string {
	return strings.Join([]string{
		t.Symbol,
		string(t.Direction),
		t.EntryDate,
		strconv.FormatFloat(t.Quantity, 'g', -1, 64),
		strconv.FormatFloat(t.Pnl, 'g', -1, 64),
	}, "|")
}
