package rentcast

import (
	"testing"
	"time"

	"github.com/vipcre/portal/internal/apierr"
)

// jitter adds 10% to 30% on top of the computed delay, so a delay d must land
// in [1.1d, 1.3d].
func assertJitterBand(t *testing.T, got, base time.Duration) {
	t.Helper()
	low := time.Duration(float64(base) * 1.1)
	high := time.Duration(float64(base) * 1.3)
	if got < low || got > high {
		t.Errorf("delay = %v, want within [%v, %v]", got, low, high)
	}
}

func TestBackoffGrowsExponentially(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: time.Minute}

	assertJitterBand(t, p.Delay(0, apierr.KindServer, 0), time.Second)
	assertJitterBand(t, p.Delay(1, apierr.KindServer, 0), 2*time.Second)
	assertJitterBand(t, p.Delay(2, apierr.KindServer, 0), 4*time.Second)
	assertJitterBand(t, p.Delay(3, apierr.KindServer, 0), 8*time.Second)
}

func TestBackoffCapsAtMax(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: 10 * time.Second}
	assertJitterBand(t, p.Delay(30, apierr.KindServer, 0), 10*time.Second)
}

func TestBackoffDoublesBaseForConnectionErrors(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: time.Minute}
	assertJitterBand(t, p.Delay(0, apierr.KindConnection, 0), 2*time.Second)
	assertJitterBand(t, p.Delay(1, apierr.KindConnection, 0), 4*time.Second)
}

func TestRetryAfterOverridesExponential(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: time.Minute}
	assertJitterBand(t, p.Delay(0, apierr.KindRateLimited, 17*time.Second), 17*time.Second)
}

func TestRetryAfterWinsOverMax(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: 10 * time.Second}
	assertJitterBand(t, p.Delay(0, apierr.KindRateLimited, 5*time.Minute), 5*time.Minute)
}
