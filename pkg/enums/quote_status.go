package enums

import "fmt"

// QuoteStatus tracks an agency quote on an application.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusAccepted  QuoteStatus = "accepted"
	QuoteStatusRejected  QuoteStatus = "rejected"
	QuoteStatusExpired   QuoteStatus = "expired"
	QuoteStatusWithdrawn QuoteStatus = "withdrawn"
)

var validQuoteStatuses = []QuoteStatus{
	QuoteStatusPending,
	QuoteStatusAccepted,
	QuoteStatusRejected,
	QuoteStatusExpired,
	QuoteStatusWithdrawn,
}

// String implements fmt.Stringer.
func (s QuoteStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known QuoteStatus.
func (s QuoteStatus) IsValid() bool {
	for _, candidate := range validQuoteStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseQuoteStatus converts raw input into a QuoteStatus.
func ParseQuoteStatus(value string) (QuoteStatus, error) {
	for _, candidate := range validQuoteStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quote status %q", value)
}

// QuoteSource distinguishes agency bids from prices returned by an external provider.
type QuoteSource string

const (
	QuoteSourceAgency   QuoteSource = "agency"
	QuoteSourceExternal QuoteSource = "external"
)
