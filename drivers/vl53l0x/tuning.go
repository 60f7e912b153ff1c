package vl53l0x

// defaultTuning is ST's default tuning table (API 1.0.2), written once
// during Init. The page-select writes are part of the table.
var defaultTuning = []regVal{
	{0xFF, 0x01}, {0x00, 0x00},

	{0xFF, 0x00}, {0x09, 0x00}, {0x10, 0x00}, {0x11, 0x00},
	{0x24, 0x01}, {0x25, 0xFF}, {0x75, 0x00},

	{0xFF, 0x01}, {0x4E, 0x2C}, {0x48, 0x00}, {0x30, 0x20},

	{0xFF, 0x00}, {0x30, 0x09}, {0x54, 0x00}, {0x31, 0x04},
	{0x32, 0x03}, {0x40, 0x83}, {0x46, 0x25}, {0x60, 0x00},
	{0x27, 0x00}, {0x50, 0x06}, {0x51, 0x00}, {0x52, 0x96},
	{0x56, 0x08}, {0x57, 0x30}, {0x61, 0x00}, {0x62, 0x00},
	{0x64, 0x00}, {0x65, 0x00}, {0x66, 0xA0},

	{0xFF, 0x01}, {0x22, 0x32}, {0x47, 0x14}, {0x49, 0xFF},
	{0x4A, 0x00},

	{0xFF, 0x00}, {0x7A, 0x0A}, {0x7B, 0x00}, {0x78, 0x21},

	{0xFF, 0x01}, {0x23, 0x34}, {0x42, 0x00}, {0x44, 0xFF},
	{0x45, 0x26}, {0x46, 0x05}, {0x40, 0x40}, {0x0E, 0x06},
	{0x20, 0x1A}, {0x43, 0x40},

	{0xFF, 0x00}, {0x34, 0x03}, {0x35, 0x44},

	{0xFF, 0x01}, {0x31, 0x04}, {0x4B, 0x09}, {0x4C, 0x05},
	{0x4D, 0x04},

	{0xFF, 0x00}, {0x44, 0x00}, {0x45, 0x20}, {0x47, 0x08},
	{0x48, 0x28}, {0x67, 0x00}, {0x70, 0x04}, {0x71, 0x01},
	{0x72, 0xFE}, {0x76, 0x00}, {0x77, 0x00},

	{0xFF, 0x01}, {0x0D, 0x01},

	{0xFF, 0x00}, {0x80, 0x01}, {0x01, 0xF8},

	{0xFF, 0x01}, {0x8E, 0x01}, {0x00, 0x01}, {0xFF, 0x00},
	{0x80, 0x00},
}
