package rentcast

import (
	"math/rand"
	"time"

	"github.com/vipcre/portal/internal/apierr"
)

// BackoffPolicy computes retry delays: exponential growth from Base, capped
// at Max, plus uniform jitter in [0.1d, 0.3d] so synchronized clients spread
// out. Connection failures start from a doubled base since a refused dial
// rarely recovers within a second.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the sleep before retry number attempt (0-based: the delay
// after the first failed try is Delay(0)). retryAfter, when positive,
// overrides the exponential component; the upstream told us when to come
// back, and its word wins even past Max. Retrying any sooner would only
// collect another denial.
func (p BackoffPolicy) Delay(attempt int, kind apierr.Kind, retryAfter time.Duration) time.Duration {
	base := p.Base
	if kind == apierr.KindConnection {
		base *= 2
	}

	d := base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}

	if retryAfter > 0 {
		d = retryAfter
	}

	jitter := time.Duration(float64(d)*0.1 + rand.Float64()*float64(d)*0.2)
	return d + jitter
}
