package conversation

import (
	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// expandTemplate spawns a concrete conversation from a wildcarded
// template, keeping the template itself untouched so it can match future
// peers. addr2 and port2 fill in whichever fields the template left
// wildcarded; fields the template does know are carried over, as are its
// setup frame and dissector association.
//
// Returns the template unchanged when it is not actually a template, or
// when the kind is not connection oriented (a UDP "peer" has no claim to
// exclusivity over the wildcarded slot).
func (s *Session) expandTemplate(conv *Conversation, addr2 gopacket.Endpoint, port2 uint32) *Conversation {
	if conv.Options&OptTemplate == 0 || conv.Key.Kind == convkey.KindUDP {
		return conv
	}

	opts := conv.Options &^ (OptTemplate | OptNoAddr2 | OptNoPort2)

	var expanded *Conversation
	switch {
	case conv.Options&OptNoAddr2 != 0 && conv.Options&OptNoPort2 != 0 && isNoAddr2Port2Key(conv.Key):
		// Neither peer address nor port known: both come from the packet.
		expanded = s.New(conv.SetupFrame, conv.Addr1(), addr2, conv.Key.Kind,
			conv.Port1(), port2, opts)
	case conv.Options&OptNoPort2 != 0 && isNoPort2Key(conv.Key):
		// Only the peer port was unknown.
		expanded = s.New(conv.SetupFrame, conv.Addr1(), conv.Addr2(), conv.Key.Kind,
			conv.Port1(), port2, opts)
	case conv.Options&OptNoAddr2 != 0 && isNoAddr2Key(conv.Key):
		// Only the peer address was unknown.
		expanded = s.New(conv.SetupFrame, conv.Addr1(), addr2, conv.Key.Kind,
			conv.Port1(), conv.Port2(), opts)
	default:
		// Template bit set but nothing it controls is active.
		return conv
	}

	// The new conversation answers to the same dissectors as the template.
	expanded.dissectors = append([]dissectorEntry(nil), conv.dissectors...)

	return expanded
}
