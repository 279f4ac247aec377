package lls

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/nic"
)

func arpReplyFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		DstMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		SourceProtAddress: []byte{10, 0, 0, 5},
		DstHwAddress:      []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstProtAddress:    []byte{10, 0, 0, 1},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func newTestWorker(front *nic.MockNIC) *Worker {
	return NewWorker(Config{
		WorkerID: 1,
		Front:    front,
		Mailbox:  mailbox.New(8),
		ARPCache: New(&ARPFamily{}, CacheConfig{}),
		NDCache:  New(&NDFamily{}, CacheConfig{}),
	})
}

func TestWorkerProcessesARPReplyFromRxBurst(t *testing.T) {
	front := nic.NewMockNIC(core.RawPacket{Data: arpReplyFrame(t)})
	w := newTestWorker(front)

	w.runOnce()

	mac, ok := w.cfg.ARPCache.Lookup(netip.MustParseAddr("10.0.0.5"))
	if !ok {
		t.Fatal("ARP cache did not learn the replied address")
	}
	want := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if mac != want {
		t.Errorf("learned MAC = %v, want %v", mac, want)
	}
}

func TestWorkerDrainsHoldCommand(t *testing.T) {
	front := nic.NewMockNIC()
	w := newTestWorker(front)

	var resolved bool
	c := w.cfg.Mailbox.Reserve()
	c.Kind = mailbox.KindHold
	c.Payload = HoldParams{
		IP:       netip.MustParseAddr("10.0.0.9"),
		WorkerID: 1,
		Callback: func(_ [6]byte, ok bool) { resolved = ok },
	}
	if err := w.cfg.Mailbox.Publish(c); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	w.runOnce()

	if resolved {
		t.Error("hold callback reported resolved immediately on an empty cache")
	}
	if _, ok := w.cfg.ARPCache.Lookup(netip.MustParseAddr("10.0.0.9")); ok {
		t.Error("cache should not have a resolved record yet")
	}
}

func TestWorkerStopBreaksRunLoop(t *testing.T) {
	front := nic.NewMockNIC()
	w := newTestWorker(front)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	w.Stop()
	<-done
}
