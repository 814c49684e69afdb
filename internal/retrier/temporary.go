package retrier

import (
	"errors"
	"net"
)

// Temporary is implemented by errors that know whether a retry may help.
type Temporary interface {
	Temporary() bool
}

// IsTemporary trusts a Temporary implementation anywhere in err's chain and
// otherwise retries network timeouts only.
func IsTemporary(err error) bool {
	var t Temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
