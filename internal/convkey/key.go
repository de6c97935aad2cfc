// Package convkey defines the typed, ordered keys that identify
// conversations. A key is a short element sequence plus the protocol kind
// that terminates it; the sequence of element type tags (its "shape")
// selects a backing table, while structural hash and equality over the
// element values identify a record within that table.
package convkey

import (
	"fmt"
	"strings"
)

// Kind discriminates the protocol family a conversation belongs to. It
// terminates every key: two keys with identical elements but different
// kinds never match.
type Kind uint32

const (
	KindNone Kind = iota
	KindSCTP
	KindTCP
	KindUDP
	KindDCCP
	KindIPX
	KindDDP
	KindIDP
	KindUSB
	KindI2C
	KindIBQP
	KindBluetooth
	KindIWarpMPA
	KindMCTP

	// Deinterlacer kinds: Ethernet endpoints coarse-keyed by interface
	// and/or VLAN presence.
	KindEthIV // interface + VLAN
	KindEthIN // interface, no VLAN
	KindEthNV // no interface, VLAN
	KindEthNN // neither
)

var kindNames = map[Kind]string{
	KindNone:      "none",
	KindSCTP:      "sctp",
	KindTCP:       "tcp",
	KindUDP:       "udp",
	KindDCCP:      "dccp",
	KindIPX:       "ipx",
	KindDDP:       "ddp",
	KindIDP:       "idp",
	KindUSB:       "usb",
	KindI2C:       "i2c",
	KindIBQP:      "ibqp",
	KindBluetooth: "bluetooth",
	KindIWarpMPA:  "iwarp_mpa",
	KindMCTP:      "mctp",
	KindEthIV:     "eth_iv",
	KindEthIN:     "eth_in",
	KindEthNV:     "eth_nv",
	KindEthNN:     "eth_nn",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// MaxElements bounds a key's length, counting the kind terminator.
const MaxElements = 8

// Key identifies a conversation: an ordered element sequence terminated
// by an explicit protocol kind.
type Key struct {
	Elements []Element
	Kind     Kind
}

// Validate reports whether the key is well formed. Keying on the kind
// alone isn't useful, so at least one element is required besides it.
func (k Key) Validate() error {
	if len(k.Elements) == 0 {
		return fmt.Errorf("key for kind %s has no elements", k.Kind)
	}
	if len(k.Elements)+1 > MaxElements {
		return fmt.Errorf("key for kind %s has %d elements, max is %d including the kind",
			k.Kind, len(k.Elements), MaxElements)
	}
	for i, el := range k.Elements {
		if el == nil {
			return fmt.Errorf("key for kind %s has nil element at %d", k.Kind, i)
		}
	}
	return nil
}

// Shape returns the comma-joined type tags of the key, terminated by
// "endpoint". Shapes select tables; they are never used as record keys.
func (k Key) Shape() string {
	var sb strings.Builder
	for _, el := range k.Elements {
		sb.WriteString(el.Tag())
		sb.WriteByte(',')
	}
	sb.WriteString("endpoint")
	return sb.String()
}

// Hash computes the structural hash of the key: a one-at-a-time pass over
// every element value and the kind, with a final avalanche.
func (k Key) Hash() uint32 {
	var h uint32
	for _, el := range k.Elements {
		h = el.addToHash(h)
	}
	h = mixUint32(h, uint32(k.Kind))

	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

// Equal reports structural equality: same kind, same length, and every
// element equal in type and value, in order.
func (k Key) Equal(other Key) bool {
	if k.Kind != other.Kind || len(k.Elements) != len(other.Elements) {
		return false
	}
	for i, el := range k.Elements {
		if !el.equal(other.Elements[i]) {
			return false
		}
	}
	return true
}

// Clone deep-copies the key so the caller's backing storage can be
// reused. Records always own their keys.
func (k Key) Clone() Key {
	els := make([]Element, len(k.Elements))
	for i, el := range k.Elements {
		els[i] = el.clone()
	}
	return Key{Elements: els, Kind: k.Kind}
}

func (k Key) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, el := range k.Elements {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", el.Tag(), el)
	}
	fmt.Fprintf(&sb, " %s]", k.Kind)
	return sb.String()
}
