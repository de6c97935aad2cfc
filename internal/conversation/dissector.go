package conversation

import (
	"sort"

	"go.uber.org/zap"

	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// Handle dissects packets belonging to an established conversation.
// Dissect reports whether the packet was accepted; a rejected packet is
// the caller's to route elsewhere.
type Handle interface {
	Dissect(p *PacketInfo, conv *Conversation) bool
}

// HandleFunc adapts a function to the Handle interface.
type HandleFunc func(p *PacketInfo, conv *Conversation) bool

func (f HandleFunc) Dissect(p *PacketInfo, conv *Conversation) bool { return f(p, conv) }

// dissectorEntry associates a handle with the frame it takes effect
// from. Entries are kept sorted by fromFrame.
type dissectorEntry struct {
	fromFrame uint32
	handle    Handle
}

// SetDissectorFromFrame associates handle with conv for frames at or
// after fromFrame. A later association from the same frame replaces the
// earlier one.
func (s *Session) SetDissectorFromFrame(conv *Conversation, fromFrame uint32, handle Handle) {
	if conv == nil {
		s.log.DPanic("can't set a dissector on a nil conversation")
		return
	}
	i := sort.Search(len(conv.dissectors), func(i int) bool {
		return conv.dissectors[i].fromFrame >= fromFrame
	})
	if i < len(conv.dissectors) && conv.dissectors[i].fromFrame == fromFrame {
		conv.dissectors[i].handle = handle
		return
	}
	conv.dissectors = append(conv.dissectors, dissectorEntry{})
	copy(conv.dissectors[i+1:], conv.dissectors[i:])
	conv.dissectors[i] = dissectorEntry{fromFrame: fromFrame, handle: handle}
}

// SetDissector associates handle with conv for the conversation's whole
// lifetime.
func (s *Session) SetDissector(conv *Conversation, handle Handle) {
	s.SetDissectorFromFrame(conv, 0, handle)
}

// Dissector returns the handle in effect at frame: the one with the
// greatest effective-from at or below it. Nil when none applies.
func (s *Session) Dissector(conv *Conversation, frame uint32) Handle {
	if conv == nil || len(conv.dissectors) == 0 {
		return nil
	}
	i := sort.Search(len(conv.dissectors), func(i int) bool {
		return conv.dissectors[i].fromFrame > frame
	})
	if i == 0 {
		return nil
	}
	return conv.dissectors[i-1].handle
}

// TryDissector finds a conversation for the addressing and, if it has a
// dissector in effect, invokes it. The search widens through the same
// wildcard combinations the options allow, most specific first. Returns
// whether a dissector ran and accepted the packet.
func (s *Session) TryDissector(p *PacketInfo, addrA, addrB gopacket.Endpoint,
	kind convkey.Kind, portA, portB uint32, opts Options) bool {

	if opts != 0 && opts&findMask == 0 {
		s.log.DPanic("record options passed to TryDissector",
			zap.Uint32("options", uint32(opts)))
	}

	tries := []Options{0}
	if opts&FindNoAddrB != 0 {
		tries = append(tries, FindNoAddrB)
	}
	if opts&FindNoPortB != 0 {
		tries = append(tries, FindNoPortB)
	}
	if opts&(FindNoAddrB|FindNoPortB) != 0 {
		tries = append(tries, FindNoAddrB|FindNoPortB)
	}

	for _, try := range tries {
		conv := s.Find(p.Frame, addrA, addrB, kind, portA, portB, try)
		if conv == nil {
			continue
		}
		handle := s.Dissector(conv, p.Frame)
		if handle == nil {
			continue
		}
		return handle.Dissect(p, conv)
	}
	return false
}

// TryDissectorByID is TryDissector for id-keyed conversations.
func (s *Session) TryDissectorByID(p *PacketInfo, kind convkey.Kind, id uint32) bool {
	conv := s.FindByID(p.Frame, kind, id)
	if conv == nil {
		return false
	}
	handle := s.Dissector(conv, p.Frame)
	if handle == nil {
		return false
	}
	return handle.Dissect(p, conv)
}

// AddProtoData attaches per-protocol data to conv under the protocol id.
func (s *Session) AddProtoData(conv *Conversation, proto int, data interface{}) {
	if conv == nil {
		s.log.DPanic("can't add proto data to a nil conversation", zap.Int("proto", proto))
		return
	}
	if conv.protoData == nil {
		conv.protoData = make(map[int]interface{})
	}
	conv.protoData[proto] = data
}

// ProtoData returns the data attached under the protocol id, or nil.
func (s *Session) ProtoData(conv *Conversation, proto int) interface{} {
	if conv == nil {
		s.log.DPanic("can't get proto data from a nil conversation", zap.Int("proto", proto))
		return nil
	}
	return conv.protoData[proto]
}

// DeleteProtoData removes the data attached under the protocol id.
func (s *Session) DeleteProtoData(conv *Conversation, proto int) {
	if conv == nil {
		s.log.DPanic("can't delete proto data from a nil conversation", zap.Int("proto", proto))
		return
	}
	delete(conv.protoData, proto)
}
