package memutils

const (
	// CreatedFillPattern is written over the payload of every block as it is allocated, so that reads of
	// memory the caller never initialized are easy to spot
	CreatedFillPattern uint8 = 0xDA
	// DestroyedFillPattern is written over the payload of every block as it is freed, so that
	// use-after-free reads are easy to spot
	DestroyedFillPattern uint8 = 0xDB
)
