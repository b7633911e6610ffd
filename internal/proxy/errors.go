package proxy

import "errors"

// ErrNoHealthyEndpoints is returned when no endpoint was eligible at dispatch time.
var ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")

// ErrAllEndpointsFailed is returned when every dispatched call failed.
var ErrAllEndpointsFailed = errors.New("all endpoints failed")

// ErrTimeout is returned when the overall request deadline elapsed before any success.
var ErrTimeout = errors.New("request timed out before any endpoint responded")
