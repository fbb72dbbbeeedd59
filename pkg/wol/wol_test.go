package wol

import (
	"bytes"
	"net"
	"testing"
)

func TestParseMACForms(t *testing.T) {
	want := net.HardwareAddr{0x00, 0x11, 0x22, 0xAA, 0xBB, 0xCC}

	for _, form := range []string{
		"00:11:22:aa:bb:cc",
		"00-11-22-AA-BB-CC",
		"0011.22aa.bbcc",
		"001122aabbcc",
		"  001122AABBCC  ",
	} {
		hw, err := ParseMAC(form)
		if err != nil {
			t.Errorf("ParseMAC(%q): %v", form, err)
			continue
		}
		if !bytes.Equal(hw, want) {
			t.Errorf("ParseMAC(%q) = %v, want %v", form, hw, want)
		}
	}
}

func TestParseMACRejectsGarbage(t *testing.T) {
	for _, form := range []string{
		"",
		"not-a-mac",
		"00:11:22:aa:bb",
		"00:11:22:aa:bb:cc:dd:ee",
		"zz1122aabbcc",
	} {
		if _, err := ParseMAC(form); err == nil {
			t.Errorf("ParseMAC(%q) accepted invalid input", form)
		}
	}
}

func TestNewMagicPacketLayout(t *testing.T) {
	hw := net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	pkt, err := NewMagicPacket(hw, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(pkt) != 102 {
		t.Fatalf("packet length = %d, want 102", len(pkt))
	}
	for i := 0; i < 6; i++ {
		if pkt[i] != 0xFF {
			t.Fatalf("byte %d of sync stream = %#x, want 0xFF", i, pkt[i])
		}
	}
	for rep := 0; rep < 16; rep++ {
		start := 6 + rep*6
		if !bytes.Equal(pkt[start:start+6], hw) {
			t.Fatalf("MAC repetition %d corrupted: %v", rep, pkt[start:start+6])
		}
	}
}

func TestNewMagicPacketSecureOn(t *testing.T) {
	hw := net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	password := []byte{1, 2, 3, 4, 5, 6}

	pkt, err := NewMagicPacket(hw, password)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt) != 108 {
		t.Fatalf("packet length = %d, want 108", len(pkt))
	}
	if !bytes.Equal(pkt[102:], password) {
		t.Errorf("SecureOn suffix = %v, want %v", pkt[102:], password)
	}

	if _, err := NewMagicPacket(hw, []byte{1, 2, 3}); err == nil {
		t.Error("a short SecureOn password must be rejected")
	}
}

func TestNewMagicPacketRejectsBadAddress(t *testing.T) {
	if _, err := NewMagicPacket(net.HardwareAddr{1, 2, 3}, nil); err == nil {
		t.Error("a 3-byte hardware address must be rejected")
	}
}

func TestSendDeliversPacket(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	hw := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	pkt, err := NewMagicPacket(hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pkt.Send("127.0.0.1", port); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], pkt) {
		t.Error("received payload differs from the sent packet")
	}
}
