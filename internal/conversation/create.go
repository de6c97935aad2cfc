package conversation

import (
	"go.uber.org/zap"

	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// New creates a conversation between two address/port pairs, set up on
// setupFrame. Wildcard options mark the second address and/or port as
// unknown; OptNoPorts keys on the address pair alone; OptTemplate makes
// the record a persistent template (requires a wildcard option).
func (s *Session) New(setupFrame uint32, addr1, addr2 gopacket.Endpoint, kind convkey.Kind,
	port1, port2 uint32, opts Options) *Conversation {

	if opts&findMask != 0 {
		s.log.DPanic("lookup wildcards passed to New; use OptNoAddr2/OptNoPort2/OptNoPort2Force",
			zap.Uint32("options", uint32(opts)))
		opts &^= findMask
	}
	if opts&OptTemplate != 0 && opts&(OptNoAddr2|OptNoPort2|OptNoPort2Force) == 0 {
		s.log.DPanic("template conversation without wildcard options",
			zap.Uint32("options", uint32(opts)))
	}

	var (
		elements []convkey.Element
		t        *table
	)
	switch {
	case opts&OptNoAddr2 != 0 && opts&(OptNoPort2|OptNoPort2Force) != 0:
		elements = []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1)}
		t = s.noAddr2Port2
	case opts&OptNoAddr2 != 0:
		elements = []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1), convkey.Port(port2)}
		t = s.noAddr2
	case opts&(OptNoPort2|OptNoPort2Force) != 0:
		elements = []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1), convkey.Addr{Endpoint: addr2}}
		t = s.noPort2
	case opts&OptNoPorts != 0:
		elements = []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Addr{Endpoint: addr2}}
		t = s.addrsOnly
	default:
		elements = []convkey.Element{convkey.Addr{Endpoint: addr1}, convkey.Port(port1),
			convkey.Addr{Endpoint: addr2}, convkey.Port(port2)}
		t = s.exact
	}

	conv := s.alloc(setupFrame, convkey.Key{Elements: elements, Kind: kind}, opts)
	s.chainInsert(t, conv)
	return conv
}

// NewByID creates a conversation keyed by a single unsigned id.
func (s *Session) NewByID(setupFrame uint32, kind convkey.Kind, id uint32) *Conversation {
	key := convkey.Key{Elements: []convkey.Element{convkey.Uint(id)}, Kind: kind}
	conv := s.alloc(setupFrame, key, 0)
	s.chainInsert(s.byID, conv)
	return conv
}

// NewFull creates a conversation from an arbitrary element sequence. The
// key's shape selects (and lazily creates) the backing table, so any
// protocol can define its own composite keys.
func (s *Session) NewFull(setupFrame uint32, key convkey.Key) *Conversation {
	if err := key.Validate(); err != nil {
		s.log.DPanic("malformed conversation key", zap.Error(err))
		return nil
	}
	t := s.getTable(key.Shape())
	conv := s.alloc(setupFrame, key.Clone(), 0)
	s.chainInsert(t, conv)
	return conv
}

// NewStrat creates a conversation for the packet, routing through the
// deinterlacer when it is enabled and an anchor conversation exists for
// the packet's lower layer.
func (s *Session) NewStrat(p *PacketInfo, kind convkey.Kind, opts Options) *Conversation {
	if s.DeinterlacingEnabled() {
		if underlying := s.FindDeinterlacerPinfo(p); underlying != nil {
			return s.NewDeinterlaced(p.Frame, p.Src, p.Dst, kind,
				p.SrcPort, p.DstPort, underlying.Index, opts)
		}
	}
	return s.New(p.Frame, p.Src, p.Dst, kind, p.SrcPort, p.DstPort, opts)
}

// SetPeerPort resolves the wildcarded second port of conv in place: the
// record is unlinked from its wildcard table, its key gains the port,
// and it is re-filed under the table matching the new shape. No-op when
// the port is not wildcarded or is forced to stay so. Templates are
// never mutated; expansion handles them.
func (s *Session) SetPeerPort(conv *Conversation, port uint32) {
	if conv.Options&OptTemplate != 0 {
		s.log.DPanic("templates expand into new conversations, they are not promoted",
			zap.Uint32("conv_index", conv.Index))
		return
	}
	if conv.Options&OptNoPort2 == 0 || conv.Options&OptNoPort2Force != 0 {
		return
	}

	if conv.Options&OptNoAddr2 != 0 {
		s.chainRemove(s.noAddr2Port2, conv)
	} else {
		s.chainRemove(s.noPort2, conv)
	}

	conv.Options &^= OptNoPort2
	if conv.Options&OptNoAddr2 != 0 {
		// addr1,port1 -> addr1,port1,port2
		conv.Key.Elements = append(conv.Key.Elements, convkey.Port(port))
		s.chainInsert(s.noAddr2, conv)
	} else {
		// addr1,port1,addr2 -> addr1,port1,addr2,port2
		conv.Key.Elements = append(conv.Key.Elements, convkey.Port(port))
		s.chainInsert(s.exact, conv)
	}
}

// SetPeerAddr resolves the wildcarded second address of conv in place,
// symmetric to SetPeerPort.
func (s *Session) SetPeerAddr(conv *Conversation, addr gopacket.Endpoint) {
	if conv.Options&OptTemplate != 0 {
		s.log.DPanic("templates expand into new conversations, they are not promoted",
			zap.Uint32("conv_index", conv.Index))
		return
	}
	if conv.Options&OptNoAddr2 == 0 {
		return
	}

	if conv.Options&OptNoPort2 != 0 {
		s.chainRemove(s.noAddr2Port2, conv)
	} else {
		s.chainRemove(s.noAddr2, conv)
	}

	conv.Options &^= OptNoAddr2
	if conv.Options&OptNoPort2 != 0 {
		// addr1,port1 -> addr1,port1,addr2
		conv.Key.Elements = append(conv.Key.Elements, convkey.Addr{Endpoint: addr})
		s.chainInsert(s.noPort2, conv)
	} else {
		// addr1,port1,port2 -> addr1,port1,addr2,port2
		els := conv.Key.Elements
		conv.Key.Elements = []convkey.Element{els[0], els[1], convkey.Addr{Endpoint: addr}, els[2]}
		s.chainInsert(s.exact, conv)
	}
}
