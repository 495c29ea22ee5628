// Defines the validation interface for requests.

package dto

// Validatable is implemented by request types that can validate their fields.
// The Wrap function uses this interface as a type constraint.
type Validatable interface {
	Validate() error
}
