package invoice

import "time"

// SourceGmail tags records extracted from the Gmail provider.
const SourceGmail = "Gmail"

// Record is one financial transaction derived from a single email message.
// ID equals the provider's message id and is the sole deduplication key.
type Record struct {
	ID         string    `db:"message_id"`
	Date       time.Time `db:"date"`
	Supplier   string    `db:"supplier"`
	Amount     float64   `db:"amount"`
	Currency   string    `db:"currency"`
	Subject    string    `db:"subject"`
	Source     string    `db:"source"`
	RawExcerpt string    `db:"raw_excerpt"`
}

// Dedupe collapses records to one per message id, keeping the first
// occurrence and preserving input order. Overlapping searches can surface
// the same message twice; id equality is the only identity used, never
// content similarity.
func Dedupe(recs []Record) []Record {
	seen := make(map[string]struct{}, len(recs))
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
