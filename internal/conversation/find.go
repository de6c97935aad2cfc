package conversation

import (
	"go.uber.org/zap"

	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// Lookup helpers. Each builds a throwaway key over the caller's values
// and searches one canonical table for the most specific record set up
// at or before frame.

func (s *Session) lookupExact(frame uint32, addr1 gopacket.Endpoint, port1 uint32,
	addr2 gopacket.Endpoint, port2 uint32, kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.exact, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1),
			convkey.Addr{Endpoint: addr2}, convkey.Port(port2)},
		Kind: kind,
	})
}

func (s *Session) lookupNoAddr2(frame uint32, addr1 gopacket.Endpoint, port1, port2 uint32,
	kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.noAddr2, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1), convkey.Port(port2)},
		Kind:     kind,
	})
}

func (s *Session) lookupNoPort2(frame uint32, addr1 gopacket.Endpoint, port1 uint32,
	addr2 gopacket.Endpoint, kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.noPort2, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1), convkey.Addr{Endpoint: addr2}},
		Kind:     kind,
	})
}

func (s *Session) lookupNoAddr2Port2(frame uint32, addr1 gopacket.Endpoint, port1 uint32,
	kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.noAddr2Port2, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1)},
		Kind:     kind,
	})
}

func (s *Session) lookupAddrs(frame uint32, addr1, addr2 gopacket.Endpoint, kind convkey.Kind) *Conversation {
	return s.lookupInTable(s.addrsOnly, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2}},
		Kind:     kind,
	})
}

// better returns the preferred of two candidate matches for the same
// key in opposite directions: the one with the higher conversation
// index, i.e. the more recently set up.
func better(a, b *Conversation) *Conversation {
	if b == nil {
		return a
	}
	if a == nil || b.Index > a.Index {
		return b
	}
	return a
}

// Find searches for a conversation between two address/port pairs as of
// frame. Attempts run from most to least specific and the first success
// wins:
//
//  1. exact four-tuple, forward then reverse (higher conversation index
//     wins a tie);
//  2. second address wildcarded, both directions;
//  3. second port wildcarded, both directions;
//  4. both wildcarded, forward (and reverse, except Infiniband QP where
//     peer correlation is not meaningful);
//  5. address pair only, both directions, when FindNoPortX asked for it.
//
// FindNoAddrB/FindNoPortB declare the caller's own second address/port
// unknown, which skips the stages that would need them. Fibre Channel
// addresses get extra port-unswapped reverse attempts, since OXID/RXID
// keep their order on the wire.
//
// A successful wildcard hit resolves the record: non-templates of
// connection-oriented kinds are promoted in place with the values that
// matched; templates spawn a concrete conversation and persist.
func (s *Session) Find(frame uint32, addrA, addrB gopacket.Endpoint, kind convkey.Kind,
	portA, portB uint32, opts Options) *Conversation {

	if opts != 0 && opts&findMask == 0 {
		s.log.DPanic("record options passed to Find; use FindNoAddrB/FindNoPortB/FindNoPortX",
			zap.Uint32("options", uint32(opts)))
	}

	isFC := addrA.EndpointType() == convkey.EndpointFibreChannel

	// Exact match, both directions.
	if opts&(FindNoAddrB|FindNoPortB|FindNoPortX) == 0 {
		conv := s.lookupExact(frame, addrA, portA, addrB, portB, kind)
		conv = better(conv, s.lookupExact(frame, addrB, portB, addrA, portA, kind))
		if conv == nil && isFC {
			conv = s.lookupExact(frame, addrB, portA, addrA, portB, kind)
		}
		if conv != nil {
			return conv
		}
	}

	// Second address wildcarded.
	if opts&(FindNoPortB|FindNoPortX) == 0 {
		conv := s.lookupNoAddr2(frame, addrA, portA, portB, kind)
		if conv == nil && isFC {
			conv = s.lookupNoAddr2(frame, addrB, portA, portB, kind)
		}
		if conv != nil {
			return s.resolveAddr(conv, kind, addrB)
		}
		if opts&FindNoAddrB == 0 {
			// Opposite direction: the packet may be the reply.
			if conv = s.lookupNoAddr2(frame, addrB, portB, portA, kind); conv != nil {
				return s.resolveAddr(conv, kind, addrA)
			}
		}
	}

	// Second port wildcarded.
	if opts&(FindNoAddrB|FindNoPortX) == 0 {
		conv := s.lookupNoPort2(frame, addrA, portA, addrB, kind)
		if conv == nil && isFC {
			conv = s.lookupNoPort2(frame, addrB, portA, addrA, kind)
		}
		if conv != nil {
			return s.resolvePort(conv, kind, portB)
		}
		if opts&FindNoPortB == 0 {
			if conv = s.lookupNoPort2(frame, addrB, portB, addrA, kind); conv != nil {
				return s.resolvePort(conv, kind, portA)
			}
		}
	}

	// Both wildcarded.
	if conv := s.lookupNoAddr2Port2(frame, addrA, portA, kind); conv != nil {
		return s.resolveBoth(conv, kind, addrB, portB)
	}
	// For Infiniband QP the reverse direction could be a different,
	// equally valid conversation; never guess.
	if kind != convkey.KindIBQP {
		var conv *Conversation
		if isFC {
			conv = s.lookupNoAddr2Port2(frame, addrB, portA, kind)
		} else {
			conv = s.lookupNoAddr2Port2(frame, addrB, portB, kind)
		}
		if conv != nil {
			return s.resolveBoth(conv, kind, addrA, portA)
		}
	}

	// Address pair only, strictly.
	if opts&FindNoPortX != 0 {
		if conv := s.lookupAddrs(frame, addrA, addrB, kind); conv != nil {
			return conv
		}
		if conv := s.lookupAddrs(frame, addrB, addrA, kind); conv != nil {
			return conv
		}
	}

	return nil
}

// resolveAddr handles a hit in the address-wildcard table: for
// connection-oriented kinds the peer address that matched is definitive,
// so the record is promoted in place, or the template expanded.
func (s *Session) resolveAddr(conv *Conversation, kind convkey.Kind, addr gopacket.Endpoint) *Conversation {
	if kind == convkey.KindUDP {
		return conv
	}
	if conv.IsTemplate() {
		return s.expandTemplate(conv, addr, 0)
	}
	s.SetPeerAddr(conv, addr)
	return conv
}

func (s *Session) resolvePort(conv *Conversation, kind convkey.Kind, port uint32) *Conversation {
	if kind == convkey.KindUDP {
		return conv
	}
	if conv.IsTemplate() {
		return s.expandTemplate(conv, gopacket.Endpoint{}, port)
	}
	s.SetPeerPort(conv, port)
	return conv
}

func (s *Session) resolveBoth(conv *Conversation, kind convkey.Kind, addr gopacket.Endpoint, port uint32) *Conversation {
	if kind == convkey.KindUDP {
		return conv
	}
	if conv.IsTemplate() {
		return s.expandTemplate(conv, addr, port)
	}
	s.SetPeerAddr(conv, addr)
	s.SetPeerPort(conv, port)
	return conv
}

// FindByID looks up a conversation keyed by a single unsigned id.
func (s *Session) FindByID(frame uint32, kind convkey.Kind, id uint32) *Conversation {
	return s.lookupInTable(s.byID, frame, convkey.Key{
		Elements: []convkey.Element{convkey.Uint(id)},
		Kind:     kind,
	})
}

// FindFull looks up a conversation under an arbitrary element sequence.
// Returns nil when no table exists for the key's shape yet.
func (s *Session) FindFull(frame uint32, key convkey.Key) *Conversation {
	if err := key.Validate(); err != nil {
		s.log.DPanic("malformed conversation key", zap.Error(err))
		return nil
	}
	t, ok := s.tables[key.Shape()]
	if !ok {
		return nil
	}
	return s.lookupInTable(t, frame, key)
}

// FindStrat looks up a conversation for the packet, routing through the
// deinterlacer when enabled; without an anchor it falls back to the
// ordinary path.
func (s *Session) FindStrat(p *PacketInfo, kind convkey.Kind, opts Options) *Conversation {
	if s.DeinterlacingEnabled() {
		if underlying := s.FindDeinterlacerPinfo(p); underlying != nil {
			return s.FindDeinterlaced(p.Frame, p.Src, p.Dst, kind,
				p.SrcPort, p.DstPort, underlying.Index, opts)
		}
	}
	return s.Find(p.Frame, p.Src, p.Dst, kind, p.SrcPort, p.DstPort, opts)
}

// FindPinfo looks up the packet's conversation, honoring any per-packet
// key overrides, and advances the record's last frame on a hit.
func (s *Session) FindPinfo(p *PacketInfo, opts Options) *Conversation {
	var conv *Conversation
	switch {
	case p.addrPortOverride != nil:
		o := p.addrPortOverride
		conv = s.Find(p.Frame, o.addr1, o.addr2, o.kind, o.port1, o.port2, 0)
	case p.keyOverride != nil:
		conv = s.FindFull(p.Frame, *p.keyOverride)
	default:
		conv = s.Find(p.Frame, p.Src, p.Dst, p.Kind, p.SrcPort, p.DstPort, opts)
	}
	if conv != nil && p.Frame > conv.LastFrame {
		conv.LastFrame = p.Frame
	}
	return conv
}

// FindPinfoRO is FindPinfo without the last-frame side effect, for
// read-only consumers such as display code.
func (s *Session) FindPinfoRO(p *PacketInfo, opts Options) *Conversation {
	switch {
	case p.addrPortOverride != nil:
		o := p.addrPortOverride
		return s.Find(p.Frame, o.addr1, o.addr2, o.kind, o.port1, o.port2, 0)
	case p.keyOverride != nil:
		return s.FindFull(p.Frame, *p.keyOverride)
	default:
		return s.FindStrat(p, p.Kind, opts)
	}
}

// FindOrCreate returns the packet's conversation, creating it on first
// sight.
func (s *Session) FindOrCreate(p *PacketInfo) *Conversation {
	if conv := s.FindPinfo(p, 0); conv != nil {
		return conv
	}
	switch {
	case p.addrPortOverride != nil:
		o := p.addrPortOverride
		return s.New(p.Frame, o.addr1, o.addr2, o.kind, o.port1, o.port2, 0)
	case p.keyOverride != nil:
		return s.NewFull(p.Frame, *p.keyOverride)
	default:
		return s.New(p.Frame, p.Src, p.Dst, p.Kind, p.SrcPort, p.DstPort, 0)
	}
}

// FindOrCreateByID returns the id-keyed conversation for the packet,
// creating it on first sight.
func (s *Session) FindOrCreateByID(p *PacketInfo, kind convkey.Kind, id uint32) *Conversation {
	if conv := s.FindByID(p.Frame, kind, id); conv != nil {
		if p.Frame > conv.LastFrame {
			conv.LastFrame = p.Frame
		}
		return conv
	}
	return s.NewByID(p.Frame, kind, id)
}
