package telemetry

import (
	"fmt"
	"io"

	"github.com/tarm/serial"
)

const DefaultBaud = 9600

var openPortFn = func(c *serial.Config) (io.WriteCloser, error) {
	return serial.OpenPort(c)
}

// SerialSink writes newline-delimited JSON frames to a serial port.
type SerialSink struct {
	name string
	port io.WriteCloser
}

func OpenSerial(name string, baud int) (*SerialSink, error) {
	if name == "" {
		return nil, fmt.Errorf("telemetry: serial port is required")
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := openPortFn(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("telemetry: open serial %s: %w", name, err)
	}
	return &SerialSink{name: name, port: port}, nil
}

func (s *SerialSink) Name() string { return "serial:" + s.name }

func (s *SerialSink) Send(f Frame) error {
	b, err := f.MarshalLine()
	if err != nil {
		return err
	}
	_, err = s.port.Write(b)
	return err
}

func (s *SerialSink) Close() error {
	if s == nil || s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
