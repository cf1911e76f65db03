package service

import (
	"math"
	"time"

	"github.com/sakif/berri-graph/internal/model"
)

const (
	DefaultMaxAge         = 45 * 24 * time.Hour
	DefaultDriftThreshold = 0.10
)

// Reason explains a staleness Decision. It is also a metrics label.
type Reason string

const (
	ReasonEmpty    Reason = "empty"     // nothing stored yet
	ReasonNoRecord Reason = "no_record" // edges exist but were never fully synced
	ReasonExpired  Reason = "expired"   // last sync older than MaxAge
	ReasonDrift    Reason = "drift"     // live count moved past the threshold
	ReasonFresh    Reason = "fresh"
)

// Decision is the output of Policy.Decide.
type Decision struct {
	Refresh bool    `json:"refresh"`
	Reason  Reason  `json:"reason"`
	Cached  int     `json:"cached"`
	Live    int     `json:"live"`
	Drift   float64 `json:"drift"`
}

// Policy decides whether a user's stored edge list must be re-fetched.
type Policy struct {
	MaxAge         time.Duration // <= 0 disables the age check
	DriftThreshold float64
	Now            func() time.Time
}

// DefaultPolicy refreshes after 45 days or more than 10% drift.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:         DefaultMaxAge,
		DriftThreshold: DefaultDriftThreshold,
		Now:            time.Now,
	}
}

// Decide compares the stored edge count with the count the live profile
// reports. A refresh is needed when nothing is stored, there is no sync
// record, the record is older than MaxAge, or the relative drift
// |cached-live|/cached exceeds DriftThreshold.
func (p Policy) Decide(cached, live int, last *model.SyncRecord) Decision {
	d := Decision{Cached: cached, Live: live}

	if cached == 0 {
		d.Refresh, d.Reason = true, ReasonEmpty
		return d
	}
	d.Drift = math.Abs(float64(cached-live)) / float64(cached)

	switch {
	case last == nil:
		d.Refresh, d.Reason = true, ReasonNoRecord
	case p.MaxAge > 0 && p.now().Sub(last.FetchedAt) > p.MaxAge:
		d.Refresh, d.Reason = true, ReasonExpired
	case d.Drift > p.threshold():
		d.Refresh, d.Reason = true, ReasonDrift
	default:
		d.Reason = ReasonFresh
	}
	return d
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p Policy) threshold() float64 {
	if p.DriftThreshold <= 0 {
		return DefaultDriftThreshold
	}
	return p.DriftThreshold
}
