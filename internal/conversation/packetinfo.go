package conversation

import (
	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// PacketInfo is the per-packet context the dissection pipeline hands the
// engine: frame number, the packet's addressing as seen on the wire, and
// the link-layer data the deinterlacer keys on. The engine never touches
// packet bytes.
type PacketInfo struct {
	Frame uint32

	Src, Dst           gopacket.Endpoint
	SrcPort, DstPort   uint32
	Kind               convkey.Kind
	LinkSrc, LinkDst   gopacket.Endpoint

	HasInterface bool
	InterfaceID  uint32
	VLANID       uint32

	addrPortOverride *addrPortEndpoints
	keyOverride      *convkey.Key
}

// addrPortEndpoints overrides the packet's own addressing for
// conversation lookup, for protocols that correlate on something other
// than the outer tuple.
type addrPortEndpoints struct {
	addr1, addr2 gopacket.Endpoint
	port1, port2 uint32
	kind         convkey.Kind
}

// SetAddrPortEndpoints makes subsequent conversation operations on this
// packet use the given addressing instead of the packet's own.
func (p *PacketInfo) SetAddrPortEndpoints(addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind, port1, port2 uint32) {
	p.addrPortOverride = &addrPortEndpoints{
		addr1: addr1, addr2: addr2,
		port1: port1, port2: port2,
		kind: kind,
	}
}

// SetElementsByID makes subsequent conversation operations on this
// packet use an id-keyed conversation.
func (p *PacketInfo) SetElementsByID(kind convkey.Kind, id uint32) {
	p.keyOverride = &convkey.Key{
		Elements: []convkey.Element{convkey.Uint(id)},
		Kind:     kind,
	}
}

// IDFromElements returns the id from an id-keyed override matching kind,
// or zero when the override is absent or has a different kind or shape.
func (p *PacketInfo) IDFromElements(kind convkey.Kind) uint32 {
	if p.keyOverride == nil || len(p.keyOverride.Elements) != 1 {
		return 0
	}
	id, ok := p.keyOverride.Elements[0].(convkey.Uint)
	if !ok || p.keyOverride.Kind != kind {
		return 0
	}
	return uint32(id)
}
