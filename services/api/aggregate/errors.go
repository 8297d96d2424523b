package aggregate

import "fmt"

// ClientError marks a request the caller can fix: unknown data type,
// malformed window or depth, missing parameter. Mapped to 400 upstream.
type ClientError struct {
	Detail string
}

func (e *ClientError) Error() string {
	return e.Detail
}

// NotFoundError marks a lookup of a record that does not exist.
type NotFoundError struct {
	Detail string
}

func (e *NotFoundError) Error() string {
	return e.Detail
}

// RawTooLargeError signals that a raw-resolution result exceeds the
// configured ceiling. Mapped to 413 so the client can retry with hourly or
// daily aggregation, or a narrower range.
type RawTooLargeError struct {
	Count   int64
	Ceiling int
}

func (e *RawTooLargeError) Error() string {
	return fmt.Sprintf("raw data has %d rows which is > %d", e.Count, e.Ceiling)
}
