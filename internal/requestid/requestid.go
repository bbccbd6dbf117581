// Package requestid implements correlation-id acceptance, minting and
// downstream propagation.
package requestid

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DefaultHeader is used when no header is configured.
const DefaultHeader = "X-Request-ID"

// Propagator decides whether an inbound correlation id is trustworthy
// and mints replacements when it is not.
type Propagator struct {
	header      string
	trustPrefix string
}

// New creates a propagator. Empty header selects DefaultHeader.
func New(header, trustPrefix string) *Propagator {
	if header == "" {
		header = DefaultHeader
	}
	return &Propagator{header: header, trustPrefix: trustPrefix}
}

// Header returns the configured header name.
func (p *Propagator) Header() string { return p.header }

// FromRequest returns the correlation id for the request. The inbound
// value is kept when it is a valid UUID v4 or carries the trust prefix;
// otherwise a fresh UUID is appended to the comma-separated chain.
func (p *Propagator) FromRequest(r *http.Request) string {
	inbound := strings.TrimSpace(r.Header.Get(p.header))
	if inbound == "" {
		return uuid.NewString()
	}
	if p.Trusted(inbound) {
		return inbound
	}
	return inbound + "," + uuid.NewString()
}

// Trusted reports whether value may be used as-is. For a chained value
// every element must qualify.
func (p *Propagator) Trusted(value string) bool {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return false
		}
		if p.trustPrefix != "" && strings.HasPrefix(part, p.trustPrefix) {
			continue
		}
		if !isUUIDv4(part) {
			return false
		}
	}
	return true
}

// Outbound returns the value to forward to a downstream service: the
// current id extended with a freshly minted hop.
func Outbound(current string) string {
	if current == "" {
		return uuid.NewString()
	}
	return current + "," + uuid.NewString()
}

func isUUIDv4(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4
}
