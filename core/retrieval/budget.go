package retrieval

import "github.com/adalundhe/hindsight/core/tokenizer"

// FilterByTokens greedily takes the ranked prefix whose token sum fits
// maxTokens, without skipping ahead past an oversized unit. The top-ranked
// unit is always included, so a successful recall never returns empty for
// want of budget.
func FilterByTokens(items []Item, maxTokens int) []Item {
	if len(items) == 0 {
		return nil
	}

	out := make([]Item, 0, len(items))
	running := 0
	for i, item := range items {
		cost := tokenizer.Count(item.Unit.Text)
		if running+cost > maxTokens {
			if i == 0 {
				out = append(out, item)
			}
			break
		}
		running += cost
		out = append(out, item)
	}
	return out
}
