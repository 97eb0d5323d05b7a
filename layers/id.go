// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import (
	"strconv"
	"sync/atomic"
)

// ID identifies one layer tree. IDs are unique within a process; zero is
// never allocated and means "no tree".
type ID uint64

// String returns the decimal form of the id.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether id is non-zero.
func (id ID) Valid() bool {
	return id != 0
}

// Allocator hands out process-unique layer tree ids starting at 1.
// The zero value is ready to use and safe for concurrent use.
type Allocator struct {
	last atomic.Uint64
}

// Next returns a fresh id.
func (a *Allocator) Next() ID {
	return ID(a.last.Add(1))
}

// TransactionID is the acknowledgement id of a layer transaction. It grows
// monotonically per root and may restart at 1 after a navigation.
type TransactionID uint64
