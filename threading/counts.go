/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package threading

// Counts holds numbers of worker and IO threads.
// It's used to represent both available and active thread counts.
type Counts struct {
	Worker int
	IO     int
}

// Sub returns a component-wise difference between c and other.
func (c Counts) Sub(other Counts) Counts {
	return Counts{Worker: c.Worker - other.Worker, IO: c.IO - other.IO}
}

// Greatest returns the larger of the two counts.
func (c Counts) Greatest() int {
	if c.Worker > c.IO {
		return c.Worker
	}
	return c.IO
}
