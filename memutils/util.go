package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint16 | ~uint32
}

// CheckEven returns an error if number is odd. Block sizes and payload pointers are always even.
func CheckEven[T Number](number T, name string) error {
	if number&1 != 0 {
		return cerrors.AssertionFailedf("%s is %d, which is not even", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// Fill overwrites every byte of data with pattern
func Fill(data []byte, pattern uint8) {
	for i := range data {
		data[i] = pattern
	}
}
