package fetch

import "fmt"

// NetworkError reports a request that produced no usable response:
// connectivity, timeout, cancellation, an open circuit breaker.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("fetch %s: network: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx response. Body holds the start of the response body.
type HTTPError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: http %d: %s", e.URL, e.Status, e.Body)
}

// DecodeError reports a 2xx response whose body is not valid JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("fetch %s: decode: %v", e.URL, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
