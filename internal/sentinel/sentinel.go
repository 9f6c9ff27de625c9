// Package sentinel provides a string-backed error type so sentinel errors can
// be declared as constants and still be matched with errors.Is.
package sentinel

// Error is an immutable error value.
type Error string

var _ error = Error("")

func (e Error) Error() string {
	return string(e)
}
