package evaluator

import (
	"time"

	"github.com/gofrs/uuid/v5"

	apexclock "github.com/apex-rules/apex/clock"
)

// DateTime is the accessor object spec §4.1 requires: `.plusHours(n)`,
// `.plusDays(n)`, `.isBefore(d)`, `.isAfter(d)`. Method names are
// translated from the spec's lowerCamel surface to these exported names
// by the rewrite pass in rewrite.go.
type DateTime struct {
	T time.Time
}

func (d DateTime) PlusHours(n int64) DateTime { return DateTime{d.T.Add(time.Duration(n) * time.Hour)} }
func (d DateTime) PlusDays(n int64) DateTime  { return DateTime{d.T.AddDate(0, 0, int(n))} }
func (d DateTime) IsBefore(other DateTime) bool { return d.T.Before(other.T) }
func (d DateTime) IsAfter(other DateTime) bool  { return d.T.After(other.T) }
func (d DateTime) String() string               { return d.T.Format(time.RFC3339) }

// DateAccessor is bound into every evaluation environment as `dates`, so
// expressions can call `dates.now()` (rewritten to `dates.Now()`). It
// carries a clock.Clock so evaluation stays deterministic under test.
type DateAccessor struct {
	clock apexclock.Clock
}

// NewDateAccessor builds a DateAccessor bound to clk.
func NewDateAccessor(clk apexclock.Clock) DateAccessor {
	return DateAccessor{clock: clk}
}

// Now returns the current instant per the bound clock.
func (a DateAccessor) Now() DateTime { return DateTime{T: a.clock.Now()} }

// UUIDAccessor exposes a UUID generator namespace per spec §4.1,
// consumed as `uuid.generate()`, which the rewrite pass in rewrite.go
// turns into `uuid.Generate()`.
type UUIDAccessor struct{}

// Generate returns a new random (v4) UUID string.
func (UUIDAccessor) Generate() string {
	id, err := uuid.NewV4()
	if err != nil {
		// uuid.NewV4 only fails if the system CSPRNG is unavailable; a
		// nil UUID is a safe, visibly-wrong fallback rather than a panic
		// inside a pure expression evaluation.
		return uuid.Nil.String()
	}
	return id.String()
}
