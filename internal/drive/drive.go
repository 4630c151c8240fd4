// Package drive controls the motor and encoder board on the I2C bus.
//
// The board speaks a command protocol: each transaction starts with a
// command byte, and reads follow the command as a separate transaction.
package drive

import (
	"fmt"
	"math"

	"crawl-ng/internal/i2c"
)

const (
	addrDefault = 0x39

	cmdDisable           = 0x00
	cmdEnable            = 0x01
	cmdRun               = 0x02 // direction, right pwm, left pwm
	cmdResetEncoders     = 0x10
	cmdReadResetEncoders = 0x12 // 4 bytes: right hi/lo, left hi/lo

	dirLeftReverse  = 0x10
	dirRightReverse = 0x01

	// MaxPWM is full power on either direction.
	MaxPWM = 255
)

type busIO interface {
	Command(cmd byte, args ...byte) error
	Read(p []byte) error
}

type Board struct {
	dev busIO

	// Last commanded power in [-1, 1].
	left, right float64
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Board, error) {
	if dev == nil {
		return nil, fmt.Errorf("drive: dev is nil")
	}
	return newWithIO(dev), nil
}

func newWithIO(dev busIO) *Board {
	return &Board{dev: dev}
}

// Init leaves the motors enabled and stopped.
func (b *Board) Init() error {
	if err := b.Stop(); err != nil {
		return err
	}
	if err := b.dev.Command(cmdRun, 0x00, 0x00, 0x00); err != nil {
		return fmt.Errorf("drive: zero power failed: %w", err)
	}
	b.left, b.right = 0, 0
	if err := b.dev.Command(cmdEnable); err != nil {
		return fmt.Errorf("drive: enable failed: %w", err)
	}
	return nil
}

// Stop disables the motor outputs. SetMotorPower does not re-enable them;
// call Init.
func (b *Board) Stop() error {
	if err := b.dev.Command(cmdDisable); err != nil {
		return fmt.Errorf("drive: disable failed: %w", err)
	}
	return nil
}

// SetMotorPower sets both wheels. Values are clamped to [-1, 1]; negative
// is reverse.
func (b *Board) SetMotorPower(left, right float64) error {
	left, right = clampPower(left), clampPower(right)
	lpwm, lrev := pwm(left)
	rpwm, rrev := pwm(right)

	var dir byte
	if lrev {
		dir |= dirLeftReverse
	}
	if rrev {
		dir |= dirRightReverse
	}
	if err := b.dev.Command(cmdRun, dir, rpwm, lpwm); err != nil {
		return fmt.Errorf("drive: set power failed: %w", err)
	}
	b.left, b.right = left, right
	return nil
}

// Power returns the last power successfully sent to the board.
func (b *Board) Power() (left, right float64) { return b.left, b.right }

// ReadAndResetEncoders returns the pulses counted since the previous reset
// and zeroes the board counters in the same command.
func (b *Board) ReadAndResetEncoders() (left, right int16, err error) {
	if err := b.dev.Command(cmdReadResetEncoders); err != nil {
		return 0, 0, fmt.Errorf("drive: read encoders command failed: %w", err)
	}
	var buf [4]byte
	if err := b.dev.Read(buf[:]); err != nil {
		return 0, 0, fmt.Errorf("drive: read encoders failed: %w", err)
	}
	right = int16(buf[0])<<8 | int16(buf[1])
	left = int16(buf[2])<<8 | int16(buf[3])
	return left, right, nil
}

func (b *Board) ResetEncoders() error {
	if err := b.dev.Command(cmdResetEncoders); err != nil {
		return fmt.Errorf("drive: reset encoders failed: %w", err)
	}
	return nil
}

// Close stops the motors.
func (b *Board) Close() error {
	if b == nil || b.dev == nil {
		return nil
	}
	return b.Stop()
}

func clampPower(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(-1, math.Min(1, p))
}

func pwm(p float64) (duty byte, reverse bool) {
	v := math.Round(p * MaxPWM)
	if v < 0 {
		return byte(-v), true
	}
	return byte(v), false
}
