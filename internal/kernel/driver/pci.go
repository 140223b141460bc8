package driver

const (
	classesMaskClass = 1 << iota
	classesMaskSubclass
	classesMaskProgIf
)

// PCIDevice is a live PCI function's identifying fields, as read off
// the configuration space by the platform layer this package doesn't
// implement.
type PCIDevice struct {
	Class, Subclass, ProgIf uint8
	VendorID, DeviceID      uint16
}

// Matches reports whether dev satisfies h's selector: every
// class/subclass/progIf field h's ClassesMask opts into must match
// exactly, and vendor/device ID only participate when the corresponding
// Flag is set on the owning header.
func (h PCIHid) Matches(dev PCIDevice, flags Flags) bool {
	if h.ClassesMask&classesMaskClass != 0 && h.Class != dev.Class {
		return false
	}

	if h.ClassesMask&classesMaskSubclass != 0 && h.Subclass != dev.Subclass {
		return false
	}

	if h.ClassesMask&classesMaskProgIf != 0 && h.ProgIf != dev.ProgIf {
		return false
	}

	if flags&FlagPCIHasVendorID != 0 && h.VendorID != dev.VendorID {
		return false
	}

	if flags&FlagPCIHasDeviceID != 0 && h.DeviceID != dev.DeviceID {
		return false
	}

	return true
}

// FindPCIMatch returns the index of the first candidate header flagged
// FlagDetectViaPCI whose selector matches dev, or -1 if none does.
func FindPCIMatch(dev PCIDevice, candidates []Header) int {
	for i, h := range candidates {
		if h.Flags&FlagDetectViaPCI == 0 {
			continue
		}

		if h.PCI.Matches(dev, h.Flags) {
			return i
		}
	}

	return -1
}
