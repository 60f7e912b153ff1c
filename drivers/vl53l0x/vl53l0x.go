// Package vl53l0x provides a driver for the ST VL53L0X time-of-flight ranging
// sensor. Every part boots at the same I²C address (0x29); SetAddress moves a
// part to a new address until its next power cycle, which is what makes
// several sensors on one bus possible when each has its own XSHUT line.
//
// Ranging follows the same two-phase shape as the AHT20 driver:
//
//	d.Trigger()            // start a single-shot measurement
//	err := d.Collect(&s)   // ErrNotReady while the measurement runs
//
// The caller owns the wait between the two; Init is the only call that
// blocks, bounded by Config.Timeout.
package vl53l0x

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// DefaultAddress is the factory I²C address of every VL53L0X.
const DefaultAddress = 0x29

var (
	ErrTimeout  = errors.New("vl53l0x: timeout")
	ErrNotReady = errors.New("vl53l0x: not ready")
	ErrBadModel = errors.New("vl53l0x: unexpected model id")
	ErrAddress  = errors.New("vl53l0x: invalid address")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x29 if zero.
	Address uint16
	// PollInterval between status reads. Default 5 ms.
	PollInterval time.Duration
	// Timeout bounds every polling loop. Default 500 ms.
	Timeout time.Duration
}

// Device wraps an I²C connection to one VL53L0X.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg  Config
	stop byte // stop variable captured during Init, replayed on each shot
	w    [1 + refSPADMapLen]byte
	r    [2]byte
}

// New creates a device bound to bus at the default address. It does not
// touch the hardware.
func New(bus drivers.I2C) Device {
	return Device{
		bus:     bus,
		Address: DefaultAddress,
		cfg:     Config{PollInterval: 5 * time.Millisecond, Timeout: 500 * time.Millisecond},
	}
}

// Configure applies optional config. It performs no bus traffic.
func (d *Device) Configure(cfgs ...Config) {
	if len(cfgs) == 0 {
		return
	}
	c := cfgs[0]
	if c.Address != 0 {
		d.Address = c.Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
	d.cfg = c
}

// ModelID reads the identification register.
func (d *Device) ModelID() (byte, error) {
	return d.readReg(regIdentificationModelID)
}

// Probe checks that a VL53L0X answers at the current address.
func (d *Device) Probe() error {
	id, err := d.ModelID()
	if err != nil {
		return err
	}
	if id != modelID {
		return ErrBadModel
	}
	return nil
}

// Init performs the data and static initialisation needed before ranging:
// reference SPAD setup, ST's default tuning table and VHV/phase calibration.
// io2v8 switches the I/O pads to 2.8 V mode.
func (d *Device) Init(io2v8 bool) error {
	if err := d.Probe(); err != nil {
		return err
	}
	if io2v8 {
		v, err := d.readReg(regVHVConfigPadSCLSDAExtSupHV)
		if err != nil {
			return err
		}
		if err := d.writeReg(regVHVConfigPadSCLSDAExtSupHV, v|0x01); err != nil {
			return err
		}
	}
	// Standard I²C mode.
	if err := d.writeReg(regI2CMode, 0x00); err != nil {
		return err
	}
	if err := d.writeRegs(openPrivate...); err != nil {
		return err
	}
	stop, err := d.readReg(regStopVariable)
	if err != nil {
		return err
	}
	d.stop = stop
	if err := d.writeRegs(closePrivate...); err != nil {
		return err
	}

	// Disable SIGNAL_RATE_MSRC and SIGNAL_RATE_PRE_RANGE limit checks.
	msrc, err := d.readReg(regMSRCConfigControl)
	if err != nil {
		return err
	}
	if err := d.writeReg(regMSRCConfigControl, msrc|0x12); err != nil {
		return err
	}
	if err := d.writeReg16(regFinalRangeMinCountRateLimit, defaultSignalRateLimit); err != nil {
		return err
	}
	if err := d.writeReg(regSystemSequenceConfig, 0xFF); err != nil {
		return err
	}

	count, aperture, err := d.spadInfo()
	if err != nil {
		return err
	}
	if err := d.setRefSPADs(count, aperture); err != nil {
		return err
	}
	if err := d.writeRegs(defaultTuning...); err != nil {
		return err
	}

	// New-sample-ready interrupt, active low.
	if err := d.writeReg(regSystemInterruptConfigGPIO, 0x04); err != nil {
		return err
	}
	hv, err := d.readReg(regGPIOHVMuxActiveHigh)
	if err != nil {
		return err
	}
	if err := d.writeRegs(
		regVal{regGPIOHVMuxActiveHigh, hv &^ 0x10},
		regVal{regSystemInterruptClear, 0x01},
		regVal{regSystemSequenceConfig, 0xE8},
	); err != nil {
		return err
	}

	// VHV then phase reference calibration.
	if err := d.writeReg(regSystemSequenceConfig, 0x01); err != nil {
		return err
	}
	if err := d.refCalibration(0x40); err != nil {
		return err
	}
	if err := d.writeReg(regSystemSequenceConfig, 0x02); err != nil {
		return err
	}
	if err := d.refCalibration(0x00); err != nil {
		return err
	}
	return d.writeReg(regSystemSequenceConfig, 0xE8)
}

// spadInfo reads the reference SPAD count and type from NVM.
func (d *Device) spadInfo() (count byte, aperture bool, err error) {
	if err = d.writeRegs(openPrivate...); err != nil {
		return
	}
	if err = d.writeReg(regPageSelect, 0x06); err != nil {
		return
	}
	if err = d.updateReg(regSPADInfoStrobe, 0x04, 0); err != nil {
		return
	}
	if err = d.writeRegs(
		regVal{regPageSelect, 0x07},
		regVal{regSPADInfoCtrl, 0x01},
		regVal{regPowerManagementGo1PowerForce, 0x01},
		regVal{regSPADInfoSelect, 0x6B},
		regVal{regSPADInfoStrobe, 0x00},
	); err != nil {
		return
	}
	if err = d.poll(func() (bool, error) {
		v, err := d.readReg(regSPADInfoStrobe)
		return v != 0, err
	}); err != nil {
		return
	}
	if err = d.writeReg(regSPADInfoStrobe, 0x01); err != nil {
		return
	}
	tmp, err := d.readReg(regSPADInfo)
	if err != nil {
		return
	}
	if err = d.writeRegs(
		regVal{regSPADInfoCtrl, 0x00},
		regVal{regPageSelect, 0x06},
	); err != nil {
		return
	}
	if err = d.updateReg(regSPADInfoStrobe, 0, 0x04); err != nil {
		return
	}
	if err = d.writeReg(regPageSelect, 0x01); err != nil {
		return
	}
	if err = d.writeRegs(closePrivate...); err != nil {
		return
	}
	return tmp & 0x7F, tmp&0x80 != 0, nil
}

// setRefSPADs enables count reference SPADs of the requested type, starting
// at the first SPAD of that type, and disables the rest.
func (d *Device) setRefSPADs(count byte, aperture bool) error {
	var m [refSPADMapLen]byte
	if err := d.readRegs(regGlobalConfigSPADEnablesRef0, m[:]); err != nil {
		return err
	}
	if err := d.writeRegs(
		regVal{regPageSelect, 0x01},
		regVal{regDynamicSPADRefEnStartOffset, 0x00},
		regVal{regDynamicSPADNumRequestedRefSPAD, 0x2C},
		regVal{regPageSelect, 0x00},
		regVal{regGlobalConfigRefEnStartSelect, 0xB4},
	); err != nil {
		return err
	}
	first := 0
	if aperture {
		first = firstApertureSPAD
	}
	var enabled byte
	for i := 0; i < refSPADCount; i++ {
		bit := byte(1) << (i % 8)
		switch {
		case i < first || enabled == count:
			m[i/8] &^= bit
		case m[i/8]&bit != 0:
			enabled++
		}
	}
	return d.writeBlock(regGlobalConfigSPADEnablesRef0, m[:])
}

func (d *Device) refCalibration(vhvInit byte) error {
	if err := d.writeReg(regSysrangeStart, 0x01|vhvInit); err != nil {
		return err
	}
	if err := d.poll(func() (bool, error) {
		st, err := d.readReg(regResultInterruptStatus)
		return st&0x07 != 0, err
	}); err != nil {
		return err
	}
	return d.writeRegs(
		regVal{regSystemInterruptClear, 0x01},
		regVal{regSysrangeStart, 0x00},
	)
}

// SetAddress moves the device to a new 7-bit address. Subsequent
// transactions use the new address. The change lasts until the part is
// power-cycled or its XSHUT line is pulled low.
func (d *Device) SetAddress(addr uint8) error {
	if addr == 0 || addr > 0x7F {
		return ErrAddress
	}
	if err := d.writeReg(regI2CSlaveDeviceAddress, addr&0x7F); err != nil {
		return err
	}
	d.Address = uint16(addr)
	return nil
}

// Trigger starts a single-shot measurement and returns without waiting.
func (d *Device) Trigger() error {
	if err := d.writeRegs(openPrivate...); err != nil {
		return err
	}
	if err := d.writeReg(regStopVariable, d.stop); err != nil {
		return err
	}
	if err := d.writeRegs(closePrivate...); err != nil {
		return err
	}
	return d.writeReg(regSysrangeStart, 0x01)
}

// Collect reads a finished measurement into out. It returns ErrNotReady while
// the start bit is still set or no result is pending.
func (d *Device) Collect(out *Sample) error {
	start, err := d.readReg(regSysrangeStart)
	if err != nil {
		return err
	}
	if start&0x01 != 0 {
		return ErrNotReady
	}
	st, err := d.readReg(regResultInterruptStatus)
	if err != nil {
		return err
	}
	if st&0x07 == 0 {
		return ErrNotReady
	}
	mm, err := d.readReg16(regResultRangeMM)
	if err != nil {
		return err
	}
	if err := d.writeReg(regSystemInterruptClear, 0x01); err != nil {
		return err
	}
	if out != nil {
		out.MM = mm
	}
	return nil
}

// CollectHint is a nominal single-shot conversion time for callers that
// schedule Collect themselves.
func (d *Device) CollectHint() time.Duration { return 35 * time.Millisecond }

// PollInterval returns the configured polling period.
func (d *Device) PollInterval() time.Duration { return d.cfg.PollInterval }

// Timeout returns the bound applied to polling loops.
func (d *Device) Timeout() time.Duration { return d.cfg.Timeout }

func (d *Device) poll(done func() (bool, error)) error {
	deadline := time.Now().Add(d.cfg.Timeout)
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(d.cfg.PollInterval)
	}
}

// Sample holds one range reading.
type Sample struct {
	MM uint16
}

// OutOfRange reports a reading that carries no target distance.
func (s Sample) OutOfRange() bool { return s.MM >= outOfRangeMM }

// ---- register helpers ----

func (d *Device) readReg(reg byte) (byte, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

// 16-bit registers are big-endian.
func (d *Device) readReg16(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) readRegs(reg byte, buf []byte) error {
	d.w[0] = reg
	return d.bus.Tx(d.Address, d.w[:1], buf)
}

func (d *Device) writeReg(reg, val byte) error {
	d.w[0] = reg
	d.w[1] = val
	return d.bus.Tx(d.Address, d.w[:2], nil)
}

func (d *Device) writeReg16(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val >> 8)
	d.w[2] = byte(val)
	return d.bus.Tx(d.Address, d.w[:3], nil)
}

func (d *Device) writeBlock(reg byte, data []byte) error {
	d.w[0] = reg
	n := copy(d.w[1:], data)
	return d.bus.Tx(d.Address, d.w[:1+n], nil)
}

// updateReg sets then clears bits in reg.
func (d *Device) updateReg(reg, set, clear byte) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, (v|set)&^clear)
}

func (d *Device) writeRegs(rv ...regVal) error {
	for _, x := range rv {
		if err := d.writeReg(x.reg, x.val); err != nil {
			return err
		}
	}
	return nil
}
