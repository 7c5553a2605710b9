package addr

// PageSize is implemented by the zero-sized page-size marker types Size4K,
// Size2M and Size1G. It stands in for the "type parameter with an
// associated SIZE constant" approach spec.md §9 calls for: Frame[S] and
// Page[S] become distinct Go types for each marker at the call site, and
// Bytes()/Level() are resolved on the zero value of S without allocating.
type PageSize interface {
	// Bytes returns the size, in bytes, of a page/frame of this size.
	Bytes() uint64

	// Level returns the paging-hierarchy level (2=P2/2M, 3=P3/1G)
	// at which a huge page of this size is installed. Size4K is not a
	// huge page and returns 0.
	Level() uint8
}

// Size4K marks a standard 4 KiB page, mapped at the P1 level.
type Size4K struct{}

// Bytes implements PageSize.
func (Size4K) Bytes() uint64 { return 4 * 1024 }

// Level implements PageSize.
func (Size4K) Level() uint8 { return 0 }

// Size2M marks a 2 MiB huge page, mapped at the P2 level.
type Size2M struct{}

// Bytes implements PageSize.
func (Size2M) Bytes() uint64 { return 2 * 1024 * 1024 }

// Level implements PageSize.
func (Size2M) Level() uint8 { return 2 }

// Size1G marks a 1 GiB huge page, mapped at the P3 level.
type Size1G struct{}

// Bytes implements PageSize.
func (Size1G) Bytes() uint64 { return 1024 * 1024 * 1024 }

// Level implements PageSize.
func (Size1G) Level() uint8 { return 3 }
