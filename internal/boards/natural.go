package boards

import (
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// A Collator keeps internal buffers and is not safe for concurrent use.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.Numeric, collate.Loose)
)

// NaturalCompare compares two strings the way a person sorts them: digit runs
// are compared numerically ("Board 2" < "Board 10") and case and accents are
// ignored. It returns -1, 0 or 1.
func NaturalCompare(left, right string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(left, right)
}
