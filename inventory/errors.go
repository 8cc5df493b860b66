/*
errors.go - Error types for the inventory engine

ERROR CATEGORIES:
  1. Reference errors - SKU or deposit name does not resolve
  2. Conflict errors  - Concurrent updates on the same pair
  3. Validation errors - Quantity rejected in strict mode, unparseable input
  4. Catalog errors   - Duplicate SKU or deposit name

USAGE:
  if inventory.IsNotFound(err) {
      // 404
  }
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReferenceNotFound is returned when a product SKU or deposit name
	// does not resolve. The operation is aborted before any write.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrConcurrentUpdate is returned by stores when two units of work raced
	// on the same pair. The engine retries it before surfacing it.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrInvalidQuantity is returned in strict mode for non-positive
	// movement quantities or negative balances, and by ParseQuantity for
	// fractional or non-numeric input.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidDate is returned by ParseDate.
	ErrInvalidDate = errors.New("invalid date")

	// ErrDuplicate is returned when creating a product or deposit whose
	// identifying key already exists.
	ErrDuplicate = errors.New("duplicate catalog key")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ReferenceKind string

const (
	RefProduct ReferenceKind = "product"
	RefDeposit ReferenceKind = "deposit"
)

// ReferenceNotFoundError names the reference that failed to resolve.
type ReferenceNotFoundError struct {
	Kind ReferenceKind
	Key  string // SKU or deposit name
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *ReferenceNotFoundError) Unwrap() error { return ErrReferenceNotFound }

func ProductNotFound(sku string) error {
	return &ReferenceNotFoundError{Kind: RefProduct, Key: sku}
}

func DepositNotFound(name string) error {
	return &ReferenceNotFoundError{Kind: RefDeposit, Key: name}
}

// QuantityError reports a quantity rejected by strict validation.
type QuantityError struct {
	Operation Operation
	Quantity  int
}

func (e *QuantityError) Error() string {
	if e.Operation == OpBalance {
		return fmt.Sprintf("%s: quantity must not be negative, got %d", e.Operation, e.Quantity)
	}
	return fmt.Sprintf("%s: quantity must be positive, got %d", e.Operation, e.Quantity)
}

func (e *QuantityError) Unwrap() error { return ErrInvalidQuantity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrDuplicate)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrReferenceNotFound)
}
