package analytics

import (
	"time"

	"github.com/caevv/buildwatch/internal/store"
)

// AttributionKind says how the breaker of a failing dimension was found.
type AttributionKind string

const (
	// AttributionNone: the latest build is green, still running or has no
	// known result.
	AttributionNone AttributionKind = "none"
	// AttributionRegression: the first failure after the last success.
	AttributionRegression AttributionKind = "regression"
	// AttributionFallback: no success in the window; the newest failing
	// build is reported.
	AttributionFallback AttributionKind = "fallback"
	// AttributionUnknown: no breaker can be named.
	AttributionUnknown AttributionKind = "unknown"
)

// BuildRef identifies a build in analytics output.
type BuildRef struct {
	Number      int          `json:"number"`
	Status      store.Status `json:"status"`
	TriggeredBy string       `json:"triggered_by,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	URL         string       `json:"url,omitempty"`
	Tag         string       `json:"tag,omitempty"`
}

func refOf(b *store.Build) *BuildRef {
	return &BuildRef{
		Number:      b.Number,
		Status:      b.Status,
		TriggeredBy: b.TriggeredBy,
		StartedAt:   b.StartedAt,
		URL:         b.URL,
		Tag:         b.Tag,
	}
}

// Attribution is the broken-by verdict for one window of builds.
type Attribution struct {
	Kind        AttributionKind `json:"kind"`
	Latest      *BuildRef       `json:"latest,omitempty"`
	BrokenBy    *BuildRef       `json:"broken_by,omitempty"`
	LastSuccess *BuildRef       `json:"last_success,omitempty"`
	// Truncated is set on a fallback over a full window: the failure streak
	// may have started before the oldest build looked at.
	Truncated bool `json:"truncated,omitempty"`
}

type attributionState int

const (
	seekingSuccess attributionState = iota
	seekingRegressionOrigin
	attributionDone
)

// Attribute finds the build that broke a dimension. window holds the most
// recent builds newest first, at most limit of them.
//
// With a success at index s, the scan walks from s-1 toward the present and
// blames the first FAILURE or UNSTABLE: the oldest regression after the last
// known-good build. With no success at all, the newest build is blamed
// instead. The two directions differ and tests pin both.
func Attribute(window []*store.Build, limit int) Attribution {
	if len(window) == 0 {
		return Attribution{Kind: AttributionUnknown}
	}

	latest := window[0]
	a := Attribution{Kind: AttributionUnknown, Latest: refOf(latest)}
	switch latest.Status {
	case store.StatusFailure, store.StatusUnstable, store.StatusAborted:
	default:
		// Only a latest build that ended badly has a breaker.
		a.Kind = AttributionNone
		return a
	}

	success := -1
	for state := seekingSuccess; state != attributionDone; {
		switch state {
		case seekingSuccess:
			for i, b := range window {
				if b.Status == store.StatusSuccess {
					success = i
					break
				}
			}
			if success < 0 {
				for _, b := range window {
					if b.Status != store.StatusSuccess {
						a.Kind = AttributionFallback
						a.BrokenBy = refOf(b)
						break
					}
				}
				a.Truncated = limit > 0 && len(window) >= limit
				state = attributionDone
				continue
			}
			a.LastSuccess = refOf(window[success])
			state = seekingRegressionOrigin

		case seekingRegressionOrigin:
			for i := success - 1; i >= 0; i-- {
				if s := window[i].Status; s == store.StatusFailure || s == store.StatusUnstable {
					a.Kind = AttributionRegression
					a.BrokenBy = refOf(window[i])
					break
				}
			}
			state = attributionDone
		}
	}
	return a
}
