package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Every default lives here so the flag set, the environment layer and
// the tests agree on one value.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds client dials and the SSH handshake.
	DefaultConnTimeout = 10 * time.Second

	// DefaultRateInterval is how often the receive rate is sampled.
	DefaultRateInterval = time.Second

	// DefaultRetries is the number of connect attempts for clients.
	// One means no retry.
	DefaultRetries = 1

	// DefaultRetryInitialDelay is the first backoff step.
	DefaultRetryInitialDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps the backoff.
	DefaultRetryMaxDelay = 10 * time.Second

	// DefaultLogMaxSizeMB rotates --log-file at this size.
	DefaultLogMaxSizeMB = 10

	// DefaultLogMaxBackups is how many rotated log files are kept.
	DefaultLogMaxBackups = 3
)
