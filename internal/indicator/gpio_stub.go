//go:build !linux || (!arm && !arm64)

package indicator

import "fmt"

func openLine(pin int, consumer string) (line, error) {
	return nil, fmt.Errorf("indicator: gpio unsupported on this platform")
}

var openLineFn = openLine
