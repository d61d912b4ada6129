package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte, the size of a single relay read
	BufferSize1KB = 1024
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
)

// Accept loop backoff after transient listener errors
const (
	// AcceptBackoffMin is the first delay after a failed Accept
	AcceptBackoffMin = 5 * time.Millisecond
	// AcceptBackoffMax caps the delay between failed Accepts
	AcceptBackoffMax = 1 * time.Second
)
