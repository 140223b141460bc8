package driver

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies the embedded obos.driver.header section.
const Magic uint64 = 0x5652445f534f424f // "OBOS_DRV" little-endian

// Flags is the header's bitfield describing which optional fields are
// populated.
type Flags uint32

const (
	FlagHasStandardInterfaces Flags = 1 << iota
	FlagDetectViaPCI
	FlagHasVersion
	FlagPCIHasDeviceID
	FlagPCIHasVendorID
)

// PCIHid narrows which PCI device a driver with FlagDetectViaPCI set
// binds to. ClassesMask selects which of Class/Subclass/ProgIf
// participate in matching (bit 0/1/2 respectively); vendor/device ID
// matching is separately gated by FlagPCIHasVendorID/FlagPCIHasDeviceID.
type PCIHid struct {
	Class, Subclass, ProgIf uint8
	VendorID, DeviceID      uint16
	ClassesMask             uint32
}

const headerFixedSize = 8 + 4 + (1 + 1 + 1 + 1 /*pad*/ + 2 + 2 + 4) + 32 + 4 + 4

// HeaderSize is the encoded size of a Header, the number of bytes a
// loader reads from the front of a driver image.
const HeaderSize = headerFixedSize

// Header is the fixed-layout structure embedded in a driver binary's
// obos.driver.header ELF section, encoded little-endian to match a
// fixed ABI rather than via reflection-based encoding.
type Header struct {
	Magic                  uint64
	Flags                  Flags
	PCI                    PCIHid
	DriverName             [32]byte
	Version                uint32
	UACPIInitLevelRequired uint32
}

// MarshalBinary packs h into its on-disk layout.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerFixedSize)

	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Flags))

	buf[12] = h.PCI.Class
	buf[13] = h.PCI.Subclass
	buf[14] = h.PCI.ProgIf
	// buf[15] is padding.
	binary.LittleEndian.PutUint16(buf[16:18], h.PCI.VendorID)
	binary.LittleEndian.PutUint16(buf[18:20], h.PCI.DeviceID)
	binary.LittleEndian.PutUint32(buf[20:24], h.PCI.ClassesMask)

	copy(buf[24:56], h.DriverName[:])
	binary.LittleEndian.PutUint32(buf[56:60], h.Version)
	binary.LittleEndian.PutUint32(buf[60:64], h.UACPIInitLevelRequired)

	return buf, nil
}

// UnmarshalBinary parses a driver header from its on-disk layout,
// rejecting anything whose magic doesn't match.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < headerFixedSize {
		return fmt.Errorf("%w: header too short: %d bytes", ErrMalformedHeader, len(data))
	}

	h.Magic = binary.LittleEndian.Uint64(data[0:8])
	if h.Magic != Magic {
		return fmt.Errorf("%w: bad magic %#x", ErrMalformedHeader, h.Magic)
	}

	h.Flags = Flags(binary.LittleEndian.Uint32(data[8:12]))

	h.PCI.Class = data[12]
	h.PCI.Subclass = data[13]
	h.PCI.ProgIf = data[14]
	h.PCI.VendorID = binary.LittleEndian.Uint16(data[16:18])
	h.PCI.DeviceID = binary.LittleEndian.Uint16(data[18:20])
	h.PCI.ClassesMask = binary.LittleEndian.Uint32(data[20:24])

	copy(h.DriverName[:], data[24:56])
	h.Version = binary.LittleEndian.Uint32(data[56:60])
	h.UACPIInitLevelRequired = binary.LittleEndian.Uint32(data[60:64])

	return nil
}

// ErrMalformedHeader is returned by UnmarshalBinary for truncated or
// bad-magic input.
var ErrMalformedHeader = malformedHeaderError{}

type malformedHeaderError struct{}

func (malformedHeaderError) Error() string { return "driver: malformed header" }
