package client

import (
	"errors"
	"math"
)

var (
	// ErrInaudible means the peak level never exceeded the threshold;
	// the recording is rejected before any network call is made.
	ErrInaudible = errors.New("recording was not audible, please re-record")
	ErrDiscarded = errors.New("recording was discarded")
)

// Recorder is the client-side half of the audibility gate: it samples
// amplitude continuously while recording and rejects a silent take
// locally, bounding wasted bandwidth and inference cost. The server
// applies the authoritative check after mediation.
type Recorder struct {
	threshold float64
	peak      float64
	discarded bool
}

func NewRecorder(threshold float64) *Recorder {
	return &Recorder{threshold: threshold}
}

// Observe folds a chunk of normalized samples into the running peak.
func (r *Recorder) Observe(samples ...float64) {
	for _, s := range samples {
		if v := math.Abs(s); v > r.peak {
			r.peak = v
		}
	}
}

// Discard abandons an in-flight recording before upload.
func (r *Recorder) Discard() {
	r.discarded = true
}

// Peak returns the highest level sampled so far.
func (r *Recorder) Peak() float64 {
	return r.peak
}

// Finish closes the recording and applies the pre-upload check.
func (r *Recorder) Finish() error {
	if r.discarded {
		return ErrDiscarded
	}
	if r.peak <= r.threshold {
		return ErrInaudible
	}
	return nil
}
