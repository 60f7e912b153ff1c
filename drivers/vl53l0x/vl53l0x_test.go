package vl53l0x

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNack = errors.New("nack")

// fakeSensor emulates the VL53L0X register file on a single address.
// SYSRANGE_START self-clears bit 0 after it has been read once. Page select
// is ignored, so private-page registers alias page 0. wrote records every
// value written to each register in order.
type fakeSensor struct {
	addr  uint16
	regs  [256]byte
	wrote map[byte][]byte
	txs   int

	// nvmStuck keeps the SPAD info strobe at zero.
	nvmStuck bool
}

func newFakeSensor() *fakeSensor {
	f := &fakeSensor{addr: DefaultAddress, wrote: map[byte][]byte{}}
	f.regs[regIdentificationModelID] = modelID
	f.regs[regStopVariable] = 0x3C
	f.regs[regResultInterruptStatus] = 0x07
	f.regs[regMSRCConfigControl] = 0x01
	f.regs[regGPIOHVMuxActiveHigh] = 0x11
	return f
}

func (f *fakeSensor) Tx(addr uint16, w, r []byte) error {
	f.txs++
	if addr != f.addr {
		return errNack
	}
	if len(w) == 0 {
		return errNack
	}
	reg := w[0]
	if r == nil {
		for i, b := range w[1:] {
			f.regs[int(reg)+i] = b
			f.wrote[reg+byte(i)] = append(f.wrote[reg+byte(i)], b)
		}
		if reg == regI2CSlaveDeviceAddress {
			f.addr = uint16(w[1])
		}
		return nil
	}
	for i := range r {
		r[i] = f.regs[int(reg)+i]
	}
	if reg == regSysrangeStart {
		f.regs[reg] &^= 0x01
	}
	if reg == regSPADInfoStrobe && !f.nvmStuck {
		r[0] |= 0x01
	}
	return nil
}

func newDevice(t *testing.T, f *fakeSensor) Device {
	t.Helper()
	d := New(f)
	d.Configure(Config{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond})
	return d
}

func TestInitProgramsStaticConfig(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)

	require.NoError(t, d.Init(true))

	assert.Equal(t, byte(0x01), f.regs[regVHVConfigPadSCLSDAExtSupHV]&0x01, "2V8 mode")
	assert.Equal(t, byte(0x00), f.regs[regI2CMode])
	assert.Equal(t, byte(0x3C), d.stop, "stop variable captured")
	assert.Contains(t, f.wrote[regMSRCConfigControl], byte(0x13), "MSRC and pre-range checks disabled")
	assert.Equal(t, []byte{0x00, 0x20}, f.regs[regFinalRangeMinCountRateLimit:regFinalRangeMinCountRateLimit+2])
	assert.Equal(t, byte(0x01), f.regs[regGPIOHVMuxActiveHigh], "interrupt active low")
	assert.Equal(t, byte(0xE8), f.regs[regSystemSequenceConfig])
}

func TestInitWithout2V8LeavesPads(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)
	require.NoError(t, d.Init(false))
	assert.Equal(t, byte(0x00), f.regs[regVHVConfigPadSCLSDAExtSupHV])
}

func TestInitRejectsUnknownModel(t *testing.T) {
	f := newFakeSensor()
	f.regs[regIdentificationModelID] = 0x00
	d := newDevice(t, f)
	assert.ErrorIs(t, d.Init(true), ErrBadModel)
}

func TestInitNoDevice(t *testing.T) {
	f := newFakeSensor()
	f.addr = 0x30
	d := newDevice(t, f)
	assert.ErrorIs(t, d.Init(true), errNack)
}

func TestSetAddressMovesDevice(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)

	require.NoError(t, d.SetAddress(0x23))
	assert.Equal(t, uint16(0x23), f.addr)
	assert.Equal(t, uint16(0x23), d.Address)
	assert.NoError(t, d.Probe(), "device answers at its new address")

	assert.ErrorIs(t, d.SetAddress(0x80), ErrAddress)
	assert.ErrorIs(t, d.SetAddress(0x00), ErrAddress)
	assert.Equal(t, uint16(0x23), d.Address)
}

func TestCollectNotReadyThenValue(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)
	require.NoError(t, d.Init(true))
	f.regs[regResultRangeMM] = 0x01
	f.regs[regResultRangeMM+1] = 0xF4

	require.NoError(t, d.Trigger())
	assert.Equal(t, byte(0x3C), f.regs[regStopVariable])

	var s Sample
	assert.ErrorIs(t, d.Collect(&s), ErrNotReady, "start bit still set")
	require.NoError(t, d.Collect(&s))
	assert.Equal(t, uint16(500), s.MM)
	assert.False(t, s.OutOfRange())
	assert.Equal(t, byte(0x01), f.regs[regSystemInterruptClear])
}

func TestInitLoadsTuningTable(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)
	require.NoError(t, d.Init(true))

	assert.Contains(t, f.wrote[0x66], byte(0xA0))
	assert.Contains(t, f.wrote[0x8E], byte(0x01))
	assert.Equal(t, byte(0x00), f.regs[regSysrangeStart], "calibration leaves ranging stopped")
	assert.Equal(t, byte(0x00), f.regs[regPowerManagementGo1PowerForce])
	assert.Equal(t, byte(0x00), f.regs[regPageSelect])
}

func TestInitEnablesApertureReferenceSPADs(t *testing.T) {
	f := newFakeSensor()
	f.regs[regSPADInfo] = 0x80 | 5
	for i := 0; i < refSPADMapLen; i++ {
		f.regs[regGlobalConfigSPADEnablesRef0+i] = 0xFF
	}
	d := newDevice(t, f)
	require.NoError(t, d.Init(true))

	// SPADs 0-11 are non-aperture; the next five good ones stay enabled.
	assert.Equal(t, []byte{0x00, 0xF0, 0x01, 0x00, 0x00, 0x00},
		f.regs[regGlobalConfigSPADEnablesRef0:regGlobalConfigSPADEnablesRef0+refSPADMapLen])
	assert.Equal(t, byte(0xB4), f.regs[regGlobalConfigRefEnStartSelect])
	assert.Equal(t, byte(0x00), f.regs[regSPADInfoStrobe]&0x04, "NVM strobe bit cleared")
}

func TestInitSkipsBadReferenceSPADs(t *testing.T) {
	f := newFakeSensor()
	f.regs[regSPADInfo] = 3
	f.regs[regGlobalConfigSPADEnablesRef0] = 0xF5 // SPADs 1 and 3 are bad
	d := newDevice(t, f)
	require.NoError(t, d.Init(true))

	assert.Equal(t, byte(0x15), f.regs[regGlobalConfigSPADEnablesRef0])
	assert.Equal(t, byte(0x00), f.regs[regGlobalConfigSPADEnablesRef0+1])
}

func TestInitTimesOutOnSPADInfo(t *testing.T) {
	f := newFakeSensor()
	f.nvmStuck = true
	d := newDevice(t, f)
	assert.ErrorIs(t, d.Init(true), ErrTimeout)
}

func TestCollectOutOfRange(t *testing.T) {
	f := newFakeSensor()
	d := newDevice(t, f)
	f.regs[regResultRangeMM] = 0x1F
	f.regs[regResultRangeMM+1] = 0xFE

	var s Sample
	require.NoError(t, d.Collect(&s))
	assert.Equal(t, uint16(8190), s.MM)
	assert.True(t, s.OutOfRange())
}

func TestCalibrationTimesOut(t *testing.T) {
	f := newFakeSensor()
	f.regs[regResultInterruptStatus] = 0x00
	d := newDevice(t, f)
	assert.ErrorIs(t, d.Init(true), ErrTimeout)
}
