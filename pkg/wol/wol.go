// Package wol builds and sends Wake-on-LAN magic packets.
//
// A magic packet is 6 bytes of 0xFF followed by the target's MAC address
// repeated 16 times, optionally followed by a 6-byte SecureOn password.
// It is broadcast over UDP; the conventional discard ports are 9 and 7.
package wol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the conventional Wake-on-LAN UDP port.
const DefaultPort = 9

// DefaultBroadcast is the limited broadcast address used when the caller
// does not know the target's subnet.
const DefaultBroadcast = "255.255.255.255"

const (
	macLen     = 6
	repeatMAC  = 16
	syncLen    = 6
	packetSize = syncLen + repeatMAC*macLen
)

// MagicPacket is a wire-ready Wake-on-LAN payload.
type MagicPacket []byte

// ParseMAC accepts the common textual MAC forms: colon- or dash-separated
// pairs, dotted quads of four hex digits, or 12 bare hex digits.
func ParseMAC(s string) (net.HardwareAddr, error) {
	cleaned := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(s))
	if len(cleaned) == macLen*2 {
		hw := make(net.HardwareAddr, macLen)
		for i := 0; i < macLen; i++ {
			b, err := strconv.ParseUint(cleaned[i*2:i*2+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("wol: invalid MAC address %q", s)
			}
			hw[i] = byte(b)
		}
		return hw, nil
	}

	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("wol: invalid MAC address %q", s)
	}
	if len(hw) != macLen {
		return nil, fmt.Errorf("wol: MAC address %q is not 48-bit", s)
	}
	return hw, nil
}

// NewMagicPacket builds the payload for the given hardware address.
// password, when non-nil, must be exactly 6 bytes (SecureOn).
func NewMagicPacket(hw net.HardwareAddr, password []byte) (MagicPacket, error) {
	if len(hw) != macLen {
		return nil, fmt.Errorf("wol: hardware address must be %d bytes, got %d", macLen, len(hw))
	}
	if password != nil && len(password) != macLen {
		return nil, fmt.Errorf("wol: SecureOn password must be %d bytes, got %d", macLen, len(password))
	}

	pkt := make(MagicPacket, 0, packetSize+len(password))
	for i := 0; i < syncLen; i++ {
		pkt = append(pkt, 0xFF)
	}
	for i := 0; i < repeatMAC; i++ {
		pkt = append(pkt, hw...)
	}
	pkt = append(pkt, password...)
	return pkt, nil
}

// Send broadcasts the packet to addr:port over UDP.
func (p MagicPacket) Send(addr string, port int) error {
	if addr == "" {
		addr = DefaultBroadcast
	}
	if port == 0 {
		port = DefaultPort
	}

	conn, err := net.Dial("udp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("wol: dial %s: %w", addr, err)
	}
	defer conn.Close()

	n, err := conn.Write(p)
	if err != nil {
		return fmt.Errorf("wol: send: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("wol: short write: %d of %d bytes", n, len(p))
	}
	return nil
}

// Wake is the one-call convenience: parse, build, send.
func Wake(mac, addr string, port int) error {
	hw, err := ParseMAC(mac)
	if err != nil {
		return err
	}
	pkt, err := NewMagicPacket(hw, nil)
	if err != nil {
		return err
	}
	return pkt.Send(addr, port)
}
