// Package wire implements the byte-exact framing used to talk to
// FunnyPrint/Xiqi family thermal printers over their notify/write
// characteristic pair. It is pure: no I/O, no BLE types, just frame
// construction and notification parsing.
package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// DPI is the print head resolution.
	DPI = 203
	// DotsPerLine is the number of 1-bit dots in one scan row.
	DotsPerLine = 384
	// BytesPerRow is DotsPerLine packed 8 dots to a byte.
	BytesPerRow = DotsPerLine / 8
	// PackedLineBytes is the wire size of one two-row PackedLine.
	PackedLineBytes = BytesPerRow * 2
)

// PackedLine is a fixed-size wire unit carrying two scan rows of
// DotsPerLine dots each, MSB-first within each byte.
type PackedLine [PackedLineBytes]byte

const (
	frameMarker = 0x5A
	lineMarker  = 0x55
)

const (
	opHardwareInfo = 0x01
	opDensity      = 0x0C
	opEvent        = 0x04
	opHandshakeA   = 0x0A
	opHandshakeB   = 0x0B
)

// HardwareInfo builds the `5A 01` + 10 zero bytes frame.
func HardwareInfo() []byte {
	b := make([]byte, 12)
	b[0] = frameMarker
	b[1] = opHardwareInfo
	return b
}

// HandshakeA builds the `5A 0A` + 10 zero bytes frame.
func HandshakeA() []byte {
	b := make([]byte, 12)
	b[0] = frameMarker
	b[1] = opHandshakeA
	return b
}

// HandshakeB builds the `5A 0B` frame whose 10-byte payload is ten
// copies of the high byte of CRC16XModem(00 || mac), mac being the
// 6-byte peer address parsed from its 12-hex-digit form (colons or
// dashes stripped).
func HandshakeB(mac string) ([]byte, error) {
	addr, err := ParseMAC(mac)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 7)
	payload = append(payload, 0x00)
	payload = append(payload, addr[:]...)
	crc := CRC16XModem(payload)
	respByte := byte((crc >> 8) & 0xFF)

	b := make([]byte, 12)
	b[0] = frameMarker
	b[1] = opHandshakeB
	for i := 2; i < 12; i++ {
		b[i] = respByte
	}
	return b, nil
}

// Density builds the `5A 0C <d>` frame. d must be in 0..=7.
func Density(d uint8) ([]byte, error) {
	if d > 7 {
		return nil, fmt.Errorf("density out of range: %d", d)
	}
	return []byte{frameMarker, opDensity, d}, nil
}

// Event builds the `5A 04 <lines:be16> <end:le16>` frame. lines is
// big-endian, end is little-endian — this asymmetry is intentional
// and must be reproduced exactly for wire compatibility.
func Event(lines uint16, end bool) []byte {
	b := make([]byte, 6)
	b[0] = frameMarker
	b[1] = opEvent
	binary.BigEndian.PutUint16(b[2:4], lines)
	var endVal uint16
	if end {
		endVal = 1
	}
	binary.LittleEndian.PutUint16(b[4:6], endVal)
	return b
}

// Line builds the `55 <line_no:be16> <96 payload bytes> 00` frame.
func Line(lineNo uint16, payload PackedLine) []byte {
	b := make([]byte, 0, 1+2+PackedLineBytes+1)
	b = append(b, lineMarker)
	lo := make([]byte, 2)
	binary.BigEndian.PutUint16(lo, lineNo)
	b = append(b, lo...)
	b = append(b, payload[:]...)
	b = append(b, 0x00)
	return b
}

// ParseMAC parses a 12-hex-digit MAC address, with any ':' or '-'
// separators stripped, into its 6 raw bytes.
func ParseMAC(mac string) ([6]byte, error) {
	var out [6]byte
	clean := strings.NewReplacer(":", "", "-", "").Replace(mac)
	if len(clean) != 12 {
		return out, fmt.Errorf("invalid MAC address %q: expected 12 hex digits", mac)
	}
	for i := range 6 {
		var v byte
		_, err := fmt.Sscanf(clean[i*2:i*2+2], "%02x", &v)
		if err != nil {
			return out, fmt.Errorf("invalid MAC address %q: %w", mac, err)
		}
		out[i] = v
	}
	return out, nil
}

// NormalizeMAC upper-cases a MAC address and maps dashes to colons,
// matching the form returned by peripheral discovery.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}

// CRC16XModem computes CRC-16/XMODEM over data: polynomial 0x1021,
// initial value 0x0000, MSB-first bit iteration, no input/output
// reflection, no final xor.
func CRC16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// NotifyKind tags the closed set of notifications the printer can
// send. Handshake-B carries a single boolean tag (ok/rejected)
// rather than two distinct tags, by design.
type NotifyKind int

const (
	NotifyOther NotifyKind = iota
	NotifyHandshakeA
	NotifyHandshakeB
	NotifyLost
	NotifyFinished
	NotifyPaused
	NotifyStatus
)

// Status is the informational side-effect payload of a Status
// notification.
type Status struct {
	Battery  byte
	NoPaper  bool
	Overheat bool
}

// NotifyEvent is the tagged union produced by parsing a raw
// notification. Only the fields relevant to Kind are meaningful.
type NotifyEvent struct {
	Kind         NotifyKind
	HandshakeBOK bool
	LostLineNo   uint16
	Status       Status
}

const (
	ntStatus     = 0x02
	ntLost       = 0x05
	ntFinished   = 0x06
	ntPaused     = 0x08
	ntHandshakeA = 0x0A
	ntHandshakeB = 0x0B
)

// ParseNotify decodes a raw notification value into a NotifyEvent.
// Anything shorter than two bytes, or with an unrecognised tag,
// becomes NotifyOther.
func ParseNotify(data []byte) NotifyEvent {
	if len(data) < 2 || data[0] != frameMarker {
		return NotifyEvent{Kind: NotifyOther}
	}
	switch data[1] {
	case ntStatus:
		if len(data) < 6 {
			return NotifyEvent{Kind: NotifyOther}
		}
		return NotifyEvent{
			Kind: NotifyStatus,
			Status: Status{
				Battery:  data[2],
				NoPaper:  data[3] != 0,
				Overheat: data[5] != 0,
			},
		}
	case ntLost:
		if len(data) < 4 {
			return NotifyEvent{Kind: NotifyOther}
		}
		return NotifyEvent{
			Kind:       NotifyLost,
			LostLineNo: binary.BigEndian.Uint16(data[2:4]),
		}
	case ntFinished:
		return NotifyEvent{Kind: NotifyFinished}
	case ntPaused:
		return NotifyEvent{Kind: NotifyPaused}
	case ntHandshakeA:
		return NotifyEvent{Kind: NotifyHandshakeA}
	case ntHandshakeB:
		ok := len(data) >= 3 && data[2] == 0x01
		return NotifyEvent{Kind: NotifyHandshakeB, HandshakeBOK: ok}
	default:
		return NotifyEvent{Kind: NotifyOther}
	}
}
