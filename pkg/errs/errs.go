// Package errs classifies the error kinds named in spec.md §7 and
// carries a structured problem shape for an eventual external surface,
// without depending on one existing.
package errs

import "errors"

// Kind classifies an error for the purposes of retry policy and
// alerting/propagation, per spec.md §7.
type Kind string

const (
	KindTransient Kind = "transient"
	KindValidation Kind = "validation"
	KindInvariant  Kind = "invariant"
	KindDataQuality Kind = "data-quality"
	KindFatal       Kind = "fatal"
)

// Classified wraps an error with a Kind so call sites can decide whether
// to retry, surface immediately, or alert.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string { return c.Err.Error() }
func (c *Classified) Unwrap() error { return c.Err }

// New wraps err with a classification. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindTransient when the
// error was not classified — matching the propagation policy that
// producers never throw unclassified failures up the stack without a
// safe default.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return KindTransient
}

// Problem is a structured, client-safe error surface. HTTPStatusFor
// supplies its Status by collapsing the Kind values above into HTTP-style
// buckets.
type Problem struct {
	Status  int    `json:"status"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
}

// HTTPStatusFor maps a Kind to the collapsed status bucket from spec.md §7.
func HTTPStatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return 400
	case KindInvariant:
		return 409
	case KindFatal:
		return 503
	case KindDataQuality:
		return 200 // never fatal; materialized as events/alerts, not errors
	default:
		return 500
	}
}
