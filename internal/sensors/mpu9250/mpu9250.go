// Package mpu9250 brings up an InvenSense MPU-9250 over I2C and reads raw
// accel, temperature and gyro counts plus the AK8963 magnetometer behind it.
//
// Full scale stays at the power-on defaults, ±2 g and ±250 °/s, which the
// estimator's scale factors assume.
package mpu9250

import (
	"errors"
	"fmt"
	"time"

	"crawl-ng/internal/i2c"
	"crawl-ng/internal/imu"
)

var sleep = time.Sleep

// ErrIdentity is returned when WHO_AM_I does not match. Bring-up must stop.
var ErrIdentity = errors.New("mpu9250: unexpected identity")

const (
	addrDefault    = 0x68
	magAddrDefault = 0x0C

	regWhoAmI = 0x75
	whoAmIVal = 0x71

	regPwrMgmt1    = 0x6B
	regIntPinCfg   = 0x37
	bitBypassEn    = 0x02
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B // accel, temp, gyro: 7 big-endian words

	fsGyro250dps = 0x00
	fsAccel2g    = 0x00

	// AK8963, reachable once bypass is enabled.
	regMagHXL   = 0x03 // HXL..HZH then ST2
	regMagCntl1 = 0x0A
	// Continuous measurement mode 1 (8 Hz), 16-bit output.
	magCont16bit = 0x12
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev regIO
	mag regIO
}

func DefaultAddress() uint16 { return addrDefault }

func DefaultMagAddress() uint16 { return magAddrDefault }

// New checks the identity and configures the sensor. mag may be nil to skip
// the magnetometer.
func New(dev, mag *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu9250: dev is nil")
	}
	if mag == nil {
		return newWithIO(dev, nil)
	}
	return newWithIO(dev, mag)
}

func newWithIO(dev, mag regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu9250: dev is nil")
	}
	d := &Device{dev: dev, mag: mag}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("%w: whoami=0x%02X want 0x%02X", ErrIdentity, who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.dev.WriteReg(regPwrMgmt1, 0x00); err != nil {
		return fmt.Errorf("mpu9250: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.dev.WriteReg(regGyroConfig, fsGyro250dps); err != nil {
		return fmt.Errorf("mpu9250: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, fsAccel2g); err != nil {
		return fmt.Errorf("mpu9250: accel config failed: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("mpu9250: bypass enable failed: %w", err)
	}

	if d.mag == nil {
		return nil
	}
	if err := d.mag.WriteReg(regMagCntl1, magCont16bit); err != nil {
		return fmt.Errorf("mpu9250: magnetometer mode failed: %w", err)
	}
	return nil
}

// ReadAttitude bursts the 14-byte accel/temp/gyro block.
func (d *Device) ReadAttitude() (imu.RawAttitudeSample, error) {
	if d == nil {
		return imu.RawAttitudeSample{}, fmt.Errorf("mpu9250: device is nil")
	}
	var buf [14]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return imu.RawAttitudeSample{}, fmt.Errorf("mpu9250: read sensors failed: %w", err)
	}
	be := func(i int) int16 { return int16(buf[i])<<8 | int16(buf[i+1]) }
	return imu.RawAttitudeSample{
		Ax:   be(0),
		Ay:   be(2),
		Az:   be(4),
		Temp: be(6),
		Gx:   be(8),
		Gy:   be(10),
		Gz:   be(12),
	}, nil
}

// ReadMagnetic returns the AK8963 x, y, z counts. Reading through ST2 lets
// the sensor latch the next measurement.
func (d *Device) ReadMagnetic() ([3]int16, error) {
	if d == nil || d.mag == nil {
		return [3]int16{}, fmt.Errorf("mpu9250: magnetometer not configured")
	}
	var buf [7]byte
	if err := d.mag.ReadReg(regMagHXL, buf[:]); err != nil {
		return [3]int16{}, fmt.Errorf("mpu9250: read magnetometer failed: %w", err)
	}
	le := func(i int) int16 { return int16(buf[i+1])<<8 | int16(buf[i]) }
	return [3]int16{le(0), le(2), le(4)}, nil
}
