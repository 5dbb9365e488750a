package shared

import (
	"fmt"
	"time"
)

// DocPrefix builds the monthly document prefix, e.g. "PAY-202608". The
// sequence behind each prefix lives in doc_counters and is advanced with an
// atomic upsert, so concurrent creation in the same month cannot produce
// duplicate numbers.
func DocPrefix(kind string, at time.Time) string {
	return kind + "-" + at.UTC().Format("200601")
}

// FormatDocNumber renders a business key from prefix and sequence,
// e.g. "PAY-202608-0042".
func FormatDocNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%04d", prefix, seq)
}
