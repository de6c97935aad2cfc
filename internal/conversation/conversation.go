// Package conversation implements the correlation engine that groups
// packets into conversations. A Session owns a family of hash tables,
// one per key shape; each table maps a structural key to a chain of
// conversation records ordered by setup frame. Lookups cascade from
// exact matches through wildcard fallbacks, promote wildcarded records
// in place once the missing peer is learned, and expand persistent
// templates into per-peer conversations.
package conversation

import (
	"fmt"

	"github.com/google/gopacket"

	"convtrack/internal/convkey"
)

// Options is the bitmask attached to conversations and lookups. The low
// half describes a record (which fields are wildcarded, whether it is a
// template); the high half carries lookup wildcards, so creation can
// reject flags meant for Find and vice versa.
type Options uint32

const (
	// OptNoAddr2 marks the second address as unknown.
	OptNoAddr2 Options = 0x0001
	// OptNoPort2 marks the second port as unknown.
	OptNoPort2 Options = 0x0002
	// OptNoPort2Force keeps the second port wildcarded permanently:
	// promotion never fills it in.
	OptNoPort2Force Options = 0x0004
	// OptTemplate marks a wildcarded conversation that spawns concrete
	// per-peer conversations instead of being promoted itself.
	OptTemplate Options = 0x0008
	// OptNoPorts keys the conversation on the address pair alone.
	OptNoPorts Options = 0x0010
	// OptNoAnchor skips the anchor element in deinterlaced lookups.
	OptNoAnchor Options = 0x0020

	// FindNoAddrB wildcards the second address of a lookup.
	FindNoAddrB Options = 0x00010000
	// FindNoPortB wildcards the second port of a lookup.
	FindNoPortB Options = 0x00020000
	// FindNoPortX requests an address-pair-only match.
	FindNoPortX Options = 0x00040000

	findMask Options = 0xffff0000
)

// convHandle indexes a conversation in its session's arena. Chain links
// are handles rather than pointers so relinking is plain index
// assignment and teardown is dropping the arena.
type convHandle int32

const noConv convHandle = -1

// Conversation is one tracked flow. Records are created on the first
// packet of a flow, mutated as later packets match, and released in bulk
// when the session is dropped.
type Conversation struct {
	// Index is unique and monotonically increasing within a session. It
	// breaks ties between direction-swapped matches: the later record
	// wins.
	Index uint32
	// SetupFrame is the frame the conversation was set up on; LastFrame
	// the most recent frame matched to it.
	SetupFrame uint32
	LastFrame  uint32
	// Options holds the record's wildcard and template flags.
	Options Options
	// Key is the owning, deep-copied key the record is filed under.
	Key convkey.Key

	handle convHandle

	// Chain links. last and latestFound are only meaningful on the chain
	// head: last points at the tail, latestFound caches the most recent
	// lookup result.
	next        convHandle
	last        convHandle
	latestFound convHandle

	protoData  map[int]interface{}
	dissectors []dissectorEntry
}

// IsTemplate reports whether the conversation spawns per-peer records.
func (c *Conversation) IsTemplate() bool {
	return c.Options&OptTemplate != 0
}

// Addr1 returns the first address of an address-keyed conversation, or
// the zero endpoint when the key has some other shape.
func (c *Conversation) Addr1() gopacket.Endpoint {
	if a, ok := c.Key.Elements[0].(convkey.Addr); ok {
		return a.Endpoint
	}
	return gopacket.Endpoint{}
}

// Port1 returns the first port of an address/port-keyed conversation.
func (c *Conversation) Port1() uint32 {
	if len(c.Key.Elements) >= 2 {
		if _, ok := c.Key.Elements[0].(convkey.Addr); ok {
			if p, ok := c.Key.Elements[1].(convkey.Port); ok {
				return uint32(p)
			}
		}
	}
	return 0
}

// Addr2 returns the second address when the key carries one.
func (c *Conversation) Addr2() gopacket.Endpoint {
	if len(c.Key.Elements) >= 3 {
		if _, ok := c.Key.Elements[0].(convkey.Addr); ok {
			if _, ok := c.Key.Elements[1].(convkey.Port); ok {
				if a, ok := c.Key.Elements[2].(convkey.Addr); ok {
					return a.Endpoint
				}
			}
		}
	}
	return gopacket.Endpoint{}
}

// Port2 returns the second port, whether the key is exact
// (addr,port,addr,port) or address-wildcarded (addr,port,port).
func (c *Conversation) Port2() uint32 {
	if len(c.Key.Elements) < 3 {
		return 0
	}
	if _, ok := c.Key.Elements[0].(convkey.Addr); !ok {
		return 0
	}
	if _, ok := c.Key.Elements[1].(convkey.Port); !ok {
		return 0
	}
	if len(c.Key.Elements) >= 4 {
		if _, ok := c.Key.Elements[2].(convkey.Addr); ok {
			if p, ok := c.Key.Elements[3].(convkey.Port); ok {
				return uint32(p)
			}
		}
	}
	if p, ok := c.Key.Elements[2].(convkey.Port); ok {
		return uint32(p)
	}
	return 0
}

func (c *Conversation) String() string {
	return fmt.Sprintf("conv#%d %s setup=%d last=%d opts=%#x",
		c.Index, c.Key, c.SetupFrame, c.LastFrame, uint32(c.Options))
}

// Key shape predicates used by promotion and template expansion.

func isNoAddr2Key(k convkey.Key) bool {
	if len(k.Elements) != 3 {
		return false
	}
	_, a := k.Elements[0].(convkey.Addr)
	_, p1 := k.Elements[1].(convkey.Port)
	_, p2 := k.Elements[2].(convkey.Port)
	return a && p1 && p2
}

func isNoPort2Key(k convkey.Key) bool {
	if len(k.Elements) != 3 {
		return false
	}
	_, a1 := k.Elements[0].(convkey.Addr)
	_, p1 := k.Elements[1].(convkey.Port)
	_, a2 := k.Elements[2].(convkey.Addr)
	return a1 && p1 && a2
}

func isNoAddr2Port2Key(k convkey.Key) bool {
	if len(k.Elements) != 2 {
		return false
	}
	_, a := k.Elements[0].(convkey.Addr)
	_, p := k.Elements[1].(convkey.Port)
	return a && p
}
