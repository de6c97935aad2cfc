package conversation

import (
	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// The deinterlacer tells apart higher-layer conversations that collide
// on their address/port tuples but belong to different capture contexts
// (interfaces, VLANs). It builds a coarse anchor conversation from
// link-layer data and threads the anchor's conversation index into the
// higher-layer keys as an extra exact-match element.

// NewDeinterlacer creates an anchor conversation from two link-layer
// addresses and up to three coarse keys (interface id, VLAN id, spare).
func (s *Session) NewDeinterlacer(setupFrame uint32, addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind, key1, key2, key3 uint32) *Conversation {

	key := convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
			convkey.Uint(key1), convkey.Uint(key2), convkey.Uint(key3),
		},
		Kind: kind,
	}
	conv := s.alloc(setupFrame, key, 0)
	s.chainInsert(s.deinterlacer, conv)
	return conv
}

// FindDeinterlacer looks up an anchor conversation in both directions,
// breaking ties by conversation index.
func (s *Session) FindDeinterlacer(frame uint32, addrA, addrB gopacket.Endpoint,
	kind convkey.Kind, keyA, keyB, keyC uint32) *Conversation {

	conv := s.lookupDeinterlacer(frame, addrA, addrB, kind, keyA, keyB, keyC)
	return better(conv, s.lookupDeinterlacer(frame, addrB, addrA, kind, keyA, keyB, keyC))
}

func (s *Session) lookupDeinterlacer(frame uint32, addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind, key1, key2, key3 uint32) *Conversation {
	return s.lookupInTable(s.deinterlacer, frame, convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
			convkey.Uint(key1), convkey.Uint(key2), convkey.Uint(key3),
		},
		Kind: kind,
	})
}

// FindDeinterlacerPinfo resolves the packet's anchor conversation. The
// anchor variant depends on the session's deinterlacing key mask and on
// what the packet actually carries: interface id and VLAN id each
// participate only when configured and present.
func (s *Session) FindDeinterlacerPinfo(p *PacketInfo) *Conversation {
	if !s.DeinterlacingEnabled() {
		return nil
	}
	kind, iface, vlan := s.deinterlacerTuple(p)
	return s.FindDeinterlacer(p.Frame, p.LinkSrc, p.LinkDst, kind, iface, vlan, 0)
}

// FindOrCreateDeinterlacer returns the packet's anchor conversation,
// creating it on first sight of the link-layer tuple. Returns nil when
// deinterlacing is off.
func (s *Session) FindOrCreateDeinterlacer(p *PacketInfo) *Conversation {
	if !s.DeinterlacingEnabled() {
		return nil
	}
	kind, iface, vlan := s.deinterlacerTuple(p)
	if conv := s.FindDeinterlacer(p.Frame, p.LinkSrc, p.LinkDst, kind, iface, vlan, 0); conv != nil {
		if p.Frame > conv.LastFrame {
			conv.LastFrame = p.Frame
		}
		return conv
	}
	return s.NewDeinterlacer(p.Frame, p.LinkSrc, p.LinkDst, kind, iface, vlan, 0)
}

func (s *Session) deinterlacerTuple(p *PacketInfo) (kind convkey.Kind, iface, vlan uint32) {
	if s.deintKey&DeintKeyInterface != 0 && p.HasInterface {
		if s.deintKey&DeintKeyVLAN != 0 && p.VLANID > 0 {
			kind = convkey.KindEthIV
			vlan = p.VLANID
		} else {
			kind = convkey.KindEthIN
		}
		iface = p.InterfaceID
	} else {
		if s.deintKey&DeintKeyVLAN != 0 && p.VLANID > 0 {
			kind = convkey.KindEthNV
			vlan = p.VLANID
		} else {
			kind = convkey.KindEthNN
		}
	}
	return kind, iface, vlan
}

// NewDeinterlaced creates a higher-layer conversation carrying an anchor
// element. OptNoPorts keys on the address pair plus anchor; anything
// else gets the full tuple plus anchor. Anchors are exact-match only and
// never wildcarded, so the wildcard tables have no anchored variants.
func (s *Session) NewDeinterlaced(setupFrame uint32, addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind, port1, port2, anchor uint32, opts Options) *Conversation {

	if opts&OptNoPorts != 0 {
		key := convkey.Key{
			Elements: []convkey.Element{
				convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
				convkey.Uint(anchor),
			},
			Kind: kind,
		}
		conv := s.alloc(setupFrame, key, opts)
		s.chainInsert(s.addrsAnchor, conv)
		return conv
	}

	key := convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
			convkey.Port(port1), convkey.Port(port2),
			convkey.Uint(anchor),
		},
		Kind: kind,
	}
	conv := s.alloc(setupFrame, key, opts)
	s.chainInsert(s.exactAnchor, conv)
	return conv
}

// FindDeinterlaced mirrors the exact and address-pair stages of Find for
// anchored conversations: both directions, higher conversation index
// wins ties. Wildcard fallback does not apply; the anchor already
// disambiguates.
func (s *Session) FindDeinterlaced(frame uint32, addrA, addrB gopacket.Endpoint,
	kind convkey.Kind, portA, portB, anchor uint32, opts Options) *Conversation {

	if opts&(FindNoAddrB|FindNoPortB|FindNoPortX) == 0 && opts&OptNoAnchor == 0 {
		conv := s.lookupExactAnchor(frame, addrA, portA, addrB, portB, kind, anchor)
		return better(conv, s.lookupExactAnchor(frame, addrB, portB, addrA, portA, kind, anchor))
	}

	if opts&OptNoAnchor == 0 {
		conv := s.lookupAddrsAnchor(frame, addrA, addrB, kind, anchor)
		return better(conv, s.lookupAddrsAnchor(frame, addrB, addrA, kind, anchor))
	}

	// Anchor explicitly excluded: match on the address pair alone within
	// the anchored table.
	conv := s.lookupAddrsNoAnchor(frame, addrA, addrB, kind)
	return better(conv, s.lookupAddrsNoAnchor(frame, addrB, addrA, kind))
}

func (s *Session) lookupExactAnchor(frame uint32, addr1 gopacket.Endpoint, port1 uint32,
	addr2 gopacket.Endpoint, port2 uint32, kind convkey.Kind, anchor uint32) *Conversation {
	return s.lookupInTable(s.exactAnchor, frame, convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
			convkey.Port(port1), convkey.Port(port2),
			convkey.Uint(anchor),
		},
		Kind: kind,
	})
}

func (s *Session) lookupAddrsAnchor(frame uint32, addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind, anchor uint32) *Conversation {
	return s.lookupInTable(s.addrsAnchor, frame, convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
			convkey.Uint(anchor),
		},
		Kind: kind,
	})
}

func (s *Session) lookupAddrsNoAnchor(frame uint32, addr1, addr2 gopacket.Endpoint,
	kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.addrsAnchor, frame, convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2},
		},
		Kind: kind,
	})
}
