package chat

import (
	"sort"
	"time"
)

type dedupKey struct {
	text     string
	sender   string
	receiver string
	bucket   int64
}

// Dedup collapses near-simultaneous duplicate rows: messages with the
// same text, sender and receiver whose creation times fall in the same
// window keep only the earliest-created member. This is read-path
// repair for rows written before sends carried idempotency tokens;
// genuinely distinct messages minutes apart land in different buckets
// and survive. Output is sorted by creation time ascending, ties kept
// in store order.
func Dedup(msgs []*Message, window time.Duration) []*Message {
	if window <= 0 || len(msgs) < 2 {
		return msgs
	}

	sorted := make([]*Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	seen := make(map[dedupKey]struct{}, len(sorted))
	out := sorted[:0]
	for _, m := range sorted {
		k := dedupKey{
			text:     m.Text,
			sender:   m.SenderID,
			receiver: m.ReceiverID,
			bucket:   m.CreatedAt.UnixNano() / int64(window),
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}
