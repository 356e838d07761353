package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaUnitsExceeded    = errors.New("quota units cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for one caller.
type QuotaNow struct {
	ReqCount  uint32
	UnitsUsed uint64
	EpochID   uint64
}

// Quota defines the limits enforced per caller and epoch. Zero disables a
// limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxUnitsPerEpoch    uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxUnitsPerEpoch > 0
}

// EpochAt maps a unix timestamp to the quota epoch containing it.
func (q Quota) EpochAt(unix int64) uint64 {
	if unix <= 0 {
		return 0
	}
	seconds := uint64(q.EpochSeconds)
	if seconds == 0 {
		seconds = 60
	}
	return uint64(unix) / seconds
}

// CheckQuota verifies whether the additional request and unit usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addUnits uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addUnits > 0 {
		if next.UnitsUsed > math.MaxUint64-addUnits {
			return prev, ErrQuotaCounterOverflow
		}
		next.UnitsUsed += addUnits
	}
	if q.MaxUnitsPerEpoch > 0 && next.UnitsUsed > q.MaxUnitsPerEpoch {
		return prev, ErrQuotaUnitsExceeded
	}

	return next, nil
}

// QuotaTracker applies one Quota to many callers in memory.
type QuotaTracker struct {
	mu     sync.Mutex
	quota  Quota
	usage  map[string]QuotaNow
	lastEp uint64
}

// NewQuotaTracker returns a tracker enforcing q.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[string]QuotaNow)}
}

// Consume charges one request and units to caller at unix time now. Counters
// are left untouched when the charge is rejected.
func (t *QuotaTracker) Consume(caller string, now int64, units uint64) error {
	if t == nil || !t.quota.Enabled() {
		return nil
	}
	epoch := t.quota.EpochAt(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.lastEp {
		// Counters from older epochs would reset on next use anyway.
		t.usage = make(map[string]QuotaNow)
		t.lastEp = epoch
	}
	next, err := CheckQuota(t.quota, epoch, t.usage[caller], 1, units)
	if err != nil {
		return err
	}
	t.usage[caller] = next
	return nil
}
