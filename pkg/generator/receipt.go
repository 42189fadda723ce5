package generator

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReceiptNumber produces a donor-facing receipt identifier of the form
// EDU-<year>-<code>. The code is the random tail of a ULID, so numbers are
// unguessable but still sortable-unique within a burst.
func ReceiptNumber(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return fmt.Sprintf("EDU-%d-%s", now.Year(), id.String()[16:])
}

// DonationKey produces a provider-side idempotency key for gateway calls.
func DonationKey(donationID string) string {
	return "don-" + donationID
}
