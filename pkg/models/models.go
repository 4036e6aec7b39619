// Package models holds the static, read-only-after-init registry of radio
// descriptors. Nothing in this package mutates after the package-level
// vars are initialized; Get returns a copy of the descriptor struct whose
// slices and maps are shared with the registry and treated as read-only by
// convention. The zero value of Protocol is ProtocolUnknown, which no
// registry entry uses.
package models

// Protocol is the closed sum type dispatched on throughout the codec and
// action layers -- see "Tagged variants" in SPEC_FULL.md's design notes.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolUV5R
	ProtocolUV17Pro
	ProtocolDM32UVPicture
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUV5R:
		return "uv5r"
	case ProtocolUV17Pro:
		return "uv17pro"
	case ProtocolDM32UVPicture:
		return "dm32uv_picture"
	default:
		return "unknown"
	}
}

// Capability flags what a model can do; RadioModel.Capabilities is a set
// encoded as a map for O(1) membership tests.
type Capability int

const (
	CapReadClone Capability = iota
	CapWriteClone
	CapFlashLogo
	CapFlashFirmwareBF
	CapFlashPicture
	CapIdentify
)

// LogoRegion describes one place on the radio a logo/picture image can be
// written: its device address, pixel dimensions, and channel order.
type LogoRegion struct {
	Name       string
	Address    uint32
	Width      int
	Height     int
	PixelOrder string // "rgb" or "bgr"
}

// RadioModel is an immutable descriptor created once at startup from the
// static registry below. Never mutate a RadioModel obtained from the
// registry; copy it if you need a variant.
type RadioModel struct {
	Name             string
	Vendor           string
	Tag              Protocol
	BaudRate         int
	RTSCTS           bool
	HandshakeMagic   []byte
	FirmwareVersions []string // substrings matched against the ident/version probe
	LogoRegions      []LogoRegion
	Capabilities     map[Capability]bool
}

func (m RadioModel) HasCapability(c Capability) bool {
	return m.Capabilities[c]
}

var registry = map[string]RadioModel{
	"UV-5R": {
		Name:           "UV-5R",
		Vendor:         "Baofeng",
		Tag:            ProtocolUV5R,
		BaudRate:       9600,
		RTSCTS:         true,
		HandshakeMagic: []byte{0x50, 0xBB, 0xFF, 0x20, 0x12, 0x07, 0x25},
		FirmwareVersions: []string{
			"BFB297", "BFB291",
		},
		Capabilities: map[Capability]bool{
			CapReadClone:  true,
			CapWriteClone: true,
			CapIdentify:   true,
		},
	},
	"UV-5RM": {
		Name:           "UV-5RM",
		Vendor:         "Baofeng",
		Tag:            ProtocolUV17Pro,
		BaudRate:       115200,
		RTSCTS:         false,
		HandshakeMagic: []byte("PROGRAMBFNORMALU"),
		LogoRegions: []LogoRegion{
			{Name: "boot_logo", Address: 0x4504, Width: 160, Height: 128, PixelOrder: "rgb"},
		},
		Capabilities: map[Capability]bool{
			CapFlashLogo:       true,
			CapFlashFirmwareBF: true,
			CapIdentify:        true,
		},
	},
	"UV-17Pro": {
		Name:           "UV-17Pro",
		Vendor:         "Baofeng",
		Tag:            ProtocolUV17Pro,
		BaudRate:       115200,
		RTSCTS:         false,
		HandshakeMagic: []byte("PROGRAMBFNORMALU"),
		LogoRegions: []LogoRegion{
			{Name: "boot_logo", Address: 0x4504, Width: 160, Height: 128, PixelOrder: "rgb"},
		},
		Capabilities: map[Capability]bool{
			CapFlashLogo:       true,
			CapFlashFirmwareBF: true,
			CapIdentify:        true,
		},
	},
	"UV-17R": {
		Name:           "UV-17R",
		Vendor:         "Baofeng",
		Tag:            ProtocolUV17Pro,
		BaudRate:       115200,
		RTSCTS:         false,
		HandshakeMagic: []byte("PROGRAMBFNORMALU"),
		LogoRegions: []LogoRegion{
			{Name: "boot_logo", Address: 0x4504, Width: 160, Height: 128, PixelOrder: "rgb"},
		},
		Capabilities: map[Capability]bool{
			CapFlashLogo:       true,
			CapFlashFirmwareBF: true,
			CapIdentify:        true,
		},
	},
	"DM-32UV": {
		Name:     "DM-32UV",
		Vendor:   "Baofeng",
		Tag:      ProtocolDM32UVPicture,
		BaudRate: 115200,
		RTSCTS:   false,
		LogoRegions: []LogoRegion{
			{Name: "power_on_picture", Address: 0, Width: 240, Height: 320, PixelOrder: "rgb"},
		},
		Capabilities: map[Capability]bool{
			CapFlashPicture: true,
			CapIdentify:     true,
		},
	},
}

// Get returns the named model and whether it exists. The returned value is
// a copy of the registry entry (struct fields are either scalars or
// slices/maps treated as read-only by convention).
func Get(name string) (RadioModel, bool) {
	m, ok := registry[name]
	return m, ok
}

// List returns all registered model names.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// DetectByVersionString matches a firmware version probe (as read from
// clone protocol address 0x1EC0, bytes 48..62) against each UV-5R-family
// model's FirmwareVersions substrings, returning the first match.
func DetectByVersionString(version string) (RadioModel, bool) {
	for _, name := range List() {
		m := registry[name]
		for _, pattern := range m.FirmwareVersions {
			if pattern != "" && contains(version, pattern) {
				return m, true
			}
		}
	}
	return RadioModel{}, false
}

func contains(haystack, needle string) bool {
	if len(needle) == 0 {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
