package boards

import (
	"fmt"
	"strings"
)

// Port is an address a board can be reached on, as reported by the discovery daemon.
// Identity is the (Address, Protocol) pair; Label is display-only.
type Port struct {
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
	Label    string `json:"label,omitempty"`
}

// serialBoardPrefixes are the lower-cased address prefixes of serial ports that
// typically belong to a USB-attached board.
var serialBoardPrefixes = []string{
	"/dev/ttyacm",
	"/dev/ttyusb",
	"/dev/cu.usbmodem",
	"/dev/tty.usbmodem",
	"/dev/cu.usbserial",
	"/dev/tty.usbserial",
	"/dev/cu.wchusbserial",
	"/dev/tty.wchusbserial",
	"/dev/cu.slab_usbtouart",
	"/dev/tty.slab_usbtouart",
}

// SameAs reports whether both ports point at the same address over the same protocol.
func (p Port) SameAs(other Port) bool {
	return p.Address == other.Address && p.Protocol == other.Protocol
}

// Equals is SameAs plus an equal label.
func (p Port) Equals(other Port) bool {
	return p.SameAs(other) && p.Label == other.Label
}

// IsBoardPort reports whether the port can plausibly have a board behind it.
// Network ports always qualify; serial ports qualify when the address looks
// like a USB CDC/UART device or a Windows COM port.
func (p Port) IsBoardPort() bool {
	protocol := strings.ToLower(p.Protocol)
	address := strings.ToLower(p.Address)
	switch protocol {
	case "network":
		return true
	case "serial":
		if strings.HasPrefix(address, "com") {
			return true
		}
		for _, prefix := range serialBoardPrefixes {
			if strings.HasPrefix(address, prefix) {
				return true
			}
		}
	}
	return false
}

// Key is the "<protocol>:<address>" form used in storage keys.
func (p Port) Key() string {
	return p.Protocol + ":" + p.Address
}

// String returns a human-readable representation of the port.
func (p Port) String() string {
	if p.Label != "" && p.Label != p.Address {
		return fmt.Sprintf("%s (%s)", p.Address, p.Label)
	}
	return p.Address
}

// ComparePorts orders board ports before other ports, then by protocol,
// address and label using natural comparison.
func ComparePorts(left, right Port) int {
	leftBoard, rightBoard := left.IsBoardPort(), right.IsBoardPort()
	if leftBoard && !rightBoard {
		return -1
	}
	if !leftBoard && rightBoard {
		return 1
	}
	if result := NaturalCompare(strings.ToLower(left.Protocol), strings.ToLower(right.Protocol)); result != 0 {
		return result
	}
	if result := NaturalCompare(left.Address, right.Address); result != 0 {
		return result
	}
	return NaturalCompare(left.Label, right.Label)
}

func samePort(left, right *Port) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return left.SameAs(*right)
}

func copyPort(p *Port) *Port {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
