package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrExecutionInProgress = errors.New("execution in progress")
	ErrPriceMoved          = errors.New("price moved against us")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrMonitorTimeout      = errors.New("bridge monitoring timed out")
	ErrOrderCancelled      = errors.New("bridge order cancelled")
	ErrNoQuotes            = errors.New("no quotes available")
	ErrSignerUnavailable   = errors.New("signer not configured")
)

// Kind is a machine-readable error code.
type Kind string

const (
	// Price kinds.
	KindPoolRead   Kind = "pool_read"
	KindConversion Kind = "conversion"
	KindOutOfBand  Kind = "out_of_band"
	KindNoSamples  Kind = "no_samples"

	// Swap kinds.
	KindQuoteFailed  Kind = "quote_failed"
	KindNoQuotes     Kind = "no_quotes"
	KindAllowance    Kind = "allowance"
	KindSubmit       Kind = "submit"
	KindReceipt      Kind = "receipt"
	KindUnknownVenue Kind = "unknown_venue"
	KindUnavailable  Kind = "unavailable"

	// Bridge kinds.
	KindRouteUnsupported Kind = "route_unsupported"
	KindExecuteFailed    Kind = "execute_failed"
	KindMonitorTimeout   Kind = "monitor_timeout"
	KindOrderCancelled   Kind = "order_cancelled"
	KindProviderStatus   Kind = "provider_status"

	// Execution kinds.
	KindInProgress    Kind = "in_progress"
	KindPriceMoved    Kind = "price_moved"
	KindRevalidation  Kind = "revalidation_failed"
	KindStepFailed    Kind = "step_failed"
	KindCircuitOpen   Kind = "circuit_open"
	KindNotExecutable Kind = "not_executable"
)

// fatalKinds end an execution attempt or the process. Everything else is
// recoverable by a fallback or the next poll cycle.
var fatalKinds = map[Kind]bool{
	KindInProgress:     true,
	KindPriceMoved:     true,
	KindRevalidation:   true,
	KindMonitorTimeout: true,
	KindOrderCancelled: true,
	KindStepFailed:     true,
	KindCircuitOpen:    true,
}

// Context is free-form diagnostic data attached to an error.
type Context map[string]string

func (c Context) String() string {
	if len(c) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c[k])
	}
	return " [" + strings.Join(parts, " ") + "]"
}

func format(prefix string, kind Kind, ctx Context, err error) string {
	msg := fmt.Sprintf("%s: %s%s", prefix, kind, ctx)
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

// PriceError is a sampling or conversion failure.
type PriceError struct {
	Kind    Kind
	Network Network
	Context Context
	Err     error
}

func (e *PriceError) Error() string {
	return format("price "+string(e.Network), e.Kind, e.Context, e.Err)
}

func (e *PriceError) Unwrap() error { return e.Err }

// SwapError is a quote or execution failure at a venue.
type SwapError struct {
	Kind    Kind
	Venue   string
	Context Context
	Err     error
}

func (e *SwapError) Error() string {
	return format("swap "+e.Venue, e.Kind, e.Context, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// BridgeError is a quote, execution or monitoring failure at a provider.
type BridgeError struct {
	Kind     Kind
	Provider string
	Context  Context
	Err      error
}

func (e *BridgeError) Error() string {
	return format("bridge "+e.Provider, e.Kind, e.Context, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// ExecutionError is an admission, re-validation or loop-level failure.
type ExecutionError struct {
	Kind    Kind
	Context Context
	Err     error
}

func (e *ExecutionError) Error() string {
	return format("execution", e.Kind, e.Context, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// KindOf returns the kind code of the outermost taxonomy error in err's chain,
// or the empty kind for foreign errors.
func KindOf(err error) Kind {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *PriceError:
			return t.Kind
		case *SwapError:
			return t.Kind
		case *BridgeError:
			return t.Kind
		case *ExecutionError:
			return t.Kind
		}
	}
	return ""
}

// IsFatal reports whether err must not be handled by a fallback path.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return fatalKinds[KindOf(err)]
}
