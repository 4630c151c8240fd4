// Package i2c talks to devices on a Linux I2C adapter (/dev/i2c-N).
//
// Transfers use I2C_RDWR so a register write and the following read share a
// repeated start. A Bus is not safe for concurrent transfers; the control
// loop is the only user.
package i2c

import "fmt"

// BusPath returns the character device of adapter n.
func BusPath(n int) string { return fmt.Sprintf("/dev/i2c-%d", n) }

// OpenBus opens adapter n.
func OpenBus(n int) (*Bus, error) {
	if n < 0 {
		return nil, fmt.Errorf("i2c: invalid bus %d", n)
	}
	return Open(BusPath(n))
}
