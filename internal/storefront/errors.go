package storefront

import "errors"

var (
	// ErrEmptyContext is returned when a fixture list needed by an action is empty.
	ErrEmptyContext = errors.New("storefront: fixture list is empty")

	// ErrNoListing is returned by listing actions before GoToListing.
	ErrNoListing = errors.New("storefront: no listing opened")

	// ErrNotRegistered is returned by Login before Register.
	ErrNotRegistered = errors.New("storefront: customer not registered")
)
