package setups

// Board describes what the PCB/SoC offers. It carries no wiring choices.
type Board struct {
	Name             string
	GPIOMin, GPIOMax int
}

// Pico is the Raspberry Pi Pico (RP2040, GP0..GP28).
var Pico = Board{Name: "pico", GPIOMin: 0, GPIOMax: 28}

// ResourcePlan specifies wiring and operating parameters chosen by a setup.
// Providers consume this plan to instantiate resource owners.
type ResourcePlan struct {
	Board   Board
	I2C     []I2CPlan
	Latches []LatchPlan
}

type I2CPlan struct {
	ID  string // e.g. "i2c0"
	SDA int    // GPIO number
	SCL int    // GPIO number
	Hz  uint32 // bus frequency
}

// LatchPlan wires a chain of 74HC595 shift registers.
type LatchPlan struct {
	ID      string // e.g. "sr0"
	Data    int    // SER / DS
	Clock   int    // SRCLK / SHCP
	Latch   int    // RCLK / STCP
	Stages  int    // cascaded 8-bit registers
	Initial bool   // level driven on every output at boot
}
