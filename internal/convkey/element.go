package convkey

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
)

// Element is one typed component of a conversation key. The set of
// implementations is closed: Addr, Port, Str, Uint, Uint64, Int, Int64
// and Blob.
type Element interface {
	// Tag returns the shape tag for this element type, used to select a
	// backing table. Values never participate in the tag.
	Tag() string

	addToHash(h uint32) uint32
	equal(other Element) bool
	clone() Element
}

// Addr is an address element. The endpoint carries both the address
// family and the raw bytes, so two addresses of different families never
// compare equal.
type Addr struct {
	Endpoint gopacket.Endpoint
}

// Port is a transport port element. Ports are kept apart from Uint so
// that {addr,port,port} and {addr,port,uint} select different tables.
type Port uint32

// Str is a string-valued element.
type Str string

// Uint is a 32-bit unsigned element, used for ids and anchors.
type Uint uint32

// Uint64 is a 64-bit unsigned element.
type Uint64 uint64

// Int is a 32-bit signed element.
type Int int32

// Int64 is a 64-bit signed element.
type Int64 int64

// Blob is an arbitrary-bytes element, compared by length and content.
type Blob []byte

func (a Addr) Tag() string   { return "address" }
func (p Port) Tag() string   { return "port" }
func (s Str) Tag() string    { return "string" }
func (u Uint) Tag() string   { return "uint" }
func (u Uint64) Tag() string { return "uint64" }
func (i Int) Tag() string    { return "int" }
func (i Int64) Tag() string  { return "int64" }
func (b Blob) Tag() string   { return "blob" }

// One-at-a-time hash over a run of bytes.
func mixBytes(h uint32, data []byte) uint32 {
	for _, b := range data {
		h += uint32(b)
		h += h << 10
		h ^= h >> 6
	}
	return h
}

func mixUint32(h uint32, v uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return mixBytes(h, buf[:])
}

func mixUint64(h uint32, v uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return mixBytes(h, buf[:])
}

func (a Addr) addToHash(h uint32) uint32   { return mixBytes(h, a.Endpoint.Raw()) }
func (p Port) addToHash(h uint32) uint32   { return mixUint32(h, uint32(p)) }
func (s Str) addToHash(h uint32) uint32    { return mixBytes(h, []byte(s)) }
func (u Uint) addToHash(h uint32) uint32   { return mixUint32(h, uint32(u)) }
func (u Uint64) addToHash(h uint32) uint32 { return mixUint64(h, uint64(u)) }
func (i Int) addToHash(h uint32) uint32    { return mixUint32(h, uint32(i)) }
func (i Int64) addToHash(h uint32) uint32  { return mixUint64(h, uint64(i)) }
func (b Blob) addToHash(h uint32) uint32   { return mixBytes(h, b) }

func (a Addr) equal(other Element) bool {
	o, ok := other.(Addr)
	return ok && a.Endpoint == o.Endpoint
}

func (p Port) equal(other Element) bool {
	o, ok := other.(Port)
	return ok && p == o
}

func (s Str) equal(other Element) bool {
	o, ok := other.(Str)
	return ok && s == o
}

func (u Uint) equal(other Element) bool {
	o, ok := other.(Uint)
	return ok && u == o
}

func (u Uint64) equal(other Element) bool {
	o, ok := other.(Uint64)
	return ok && u == o
}

func (i Int) equal(other Element) bool {
	o, ok := other.(Int)
	return ok && i == o
}

func (i Int64) equal(other Element) bool {
	o, ok := other.(Int64)
	return ok && i == o
}

func (b Blob) equal(other Element) bool {
	o, ok := other.(Blob)
	return ok && len(b) == len(o) && bytes.Equal(b, o)
}

func (a Addr) clone() Element   { return a }
func (p Port) clone() Element   { return p }
func (s Str) clone() Element    { return s }
func (u Uint) clone() Element   { return u }
func (u Uint64) clone() Element { return u }
func (i Int) clone() Element    { return i }
func (i Int64) clone() Element  { return i }

func (b Blob) clone() Element {
	cp := make(Blob, len(b))
	copy(cp, b)
	return cp
}

// EndpointFibreChannel tags Fibre Channel addresses. The lookup engine
// treats these specially: FC exchange ids are never swapped on the wire
// the way TCP/UDP ports are, so reverse-direction lookups keep the port
// order.
var EndpointFibreChannel = gopacket.RegisterEndpointType(1000, gopacket.EndpointTypeMetadata{
	Name: "FC",
	Formatter: func(b []byte) string {
		return fmt.Sprintf("%x", b)
	},
})
