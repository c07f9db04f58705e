//go:build !debug_page_heap

package memutils

const (
	// DebugEnabled reports whether the debug_page_heap build tag is present
	DebugEnabled bool = false
)

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_page_heap build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckEven will verify that the numerical value passed in is even, and panics if it is not.
// This method no-ops unless the debug_page_heap build tag is present.
func DebugCheckEven[T Number](value T, name string) {
}
