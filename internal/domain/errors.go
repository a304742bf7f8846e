package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a failure talking to an external collaborator
// (price source, exchange notifier).
type NetworkError struct {
	Op        string // e.g. "fetch_prices", "notify"
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Caller errors. The handler layer maps these to 4xx responses.
var (
	// ErrInvalidToken is returned when the token has no catalog entry.
	ErrInvalidToken = errors.New("invalid token name")

	// ErrInsufficientBalance is returned when the order costs more than the owner holds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMalformedAmount is returned when an amount is not a positive decimal.
	ErrMalformedAmount = errors.New("invalid amount")

	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Integrity errors. These abort the admission transaction and surface as 500s.
var (
	// ErrSettlementConflict is returned when a batch update did not flip exactly its snapshot.
	ErrSettlementConflict = errors.New("settlement conflict")

	// ErrLedgerDrift is returned when the running pending total disagrees with the settled snapshot.
	ErrLedgerDrift = errors.New("pending ledger drift")
)

// ErrConfigNotFound is returned when configuration file is missing
var ErrConfigNotFound = errors.New("configuration not found")
