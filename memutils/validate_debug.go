//go:build debug_page_heap

package memutils

import "github.com/cockroachdb/errors"

const (
	// DebugEnabled reports whether the debug_page_heap build tag is present
	DebugEnabled bool = true
)

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_page_heap build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "heap validation failed"))
	}
}

// DebugCheckEven will verify that the numerical value passed in is even, and panics if it is not.
// This method no-ops unless the debug_page_heap build tag is present.
func DebugCheckEven[T Number](value T, name string) {
	err := CheckEven[T](value, name)
	if err != nil {
		panic(err)
	}
}
