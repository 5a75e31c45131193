package tokenizer

import "github.com/modelrelay/modelrelay/internal/models"

// TruncateOptions tune how much of the context window truncation may spend.
type TruncateOptions struct {
	// ExternalReserve is subtracted from the budget on top of the model's
	// response reserve (e.g. tokens a preset's system prompt will add later).
	ExternalReserve int
}

// TruncateMessages keeps as much of the conversation as fits inside
// limit - responseReserve - externalReserve. Inclusion order: the system
// message if it fits, then pinned messages in original order, then the most
// recent non-pinned messages walked newest to oldest. The walk stops at the
// first message that would overflow, so history is always cut from the oldest
// end of the recent window.
func TruncateMessages(msgs []models.ChatMessage, model string, opts TruncateOptions) []models.ChatMessage {
	budget := ModelLimit(model) - ResponseReserve(model) - opts.ExternalReserve
	if budget <= 0 || len(msgs) == 0 {
		return nil
	}

	used := 3 // reply priming
	keep := make(map[int]bool, len(msgs))

	systemIdx := -1
	for i, m := range msgs {
		if m.Role == "system" {
			systemIdx = i
			break
		}
	}
	if systemIdx >= 0 {
		if cost := EstimateMessage(msgs[systemIdx]); used+cost <= budget {
			keep[systemIdx] = true
			used += cost
		}
	}

	for i, m := range msgs {
		if i == systemIdx || !m.Pinned {
			continue
		}
		if cost := EstimateMessage(m); used+cost <= budget {
			keep[i] = true
			used += cost
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if keep[i] || i == systemIdx || msgs[i].Pinned {
			continue
		}
		cost := EstimateMessage(msgs[i])
		if used+cost > budget {
			break
		}
		keep[i] = true
		used += cost
	}

	out := make([]models.ChatMessage, 0, len(keep))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
