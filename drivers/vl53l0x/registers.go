package vl53l0x

// Register map (subset used by this driver).
const (
	regSysrangeStart                = 0x00
	regSystemSequenceConfig         = 0x01
	regSystemInterruptConfigGPIO    = 0x0A
	regSystemInterruptClear         = 0x0B
	regResultInterruptStatus        = 0x13
	regResultRangeStatus            = 0x14
	regResultRangeMM                = regResultRangeStatus + 10
	regFinalRangeMinCountRateLimit  = 0x44
	regMSRCConfigControl            = 0x60
	regGPIOHVMuxActiveHigh          = 0x84
	regI2CMode                      = 0x88
	regVHVConfigPadSCLSDAExtSupHV   = 0x89
	regI2CSlaveDeviceAddress        = 0x8A
	regStopVariable                 = 0x91
	regIdentificationModelID        = 0xC0
	regPowerManagementGo1PowerForce = 0x80
	regPageSelect                   = 0xFF

	regDynamicSPADNumRequestedRefSPAD = 0x4E
	regDynamicSPADRefEnStartOffset    = 0x4F
	regGlobalConfigSPADEnablesRef0    = 0xB0
	regGlobalConfigRefEnStartSelect   = 0xB6

	// Private page 6/7 registers used to read SPAD info from NVM.
	regSPADInfoStrobe = 0x83
	regSPADInfoSelect = 0x94
	regSPADInfo       = 0x92
	regSPADInfoCtrl   = 0x81
)

const (
	modelID = 0xEE

	// 0.25 MCPS in Q9.7.
	defaultSignalRateLimit = 0x0020

	// Range readings at or above this value mean "no target".
	outOfRangeMM = 8190

	// Reference SPAD map: 48 SPADs, the first 12 are non-aperture.
	refSPADCount      = 48
	firstApertureSPAD = 12
	refSPADMapLen     = refSPADCount / 8
)

type regVal struct{ reg, val byte }

// Entering/leaving the private register page that holds the stop variable.
var (
	openPrivate = []regVal{
		{regPowerManagementGo1PowerForce, 0x01},
		{regPageSelect, 0x01},
		{regSysrangeStart, 0x00},
	}
	closePrivate = []regVal{
		{regSysrangeStart, 0x01},
		{regPageSelect, 0x00},
		{regPowerManagementGo1PowerForce, 0x00},
	}
)
