package conversation

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convtrack/internal/convkey"
)

func TestDirectionSwapPrefersHigherIndex(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c1 := s.New(1, a, b, convkey.KindTCP, 1000, 2000, 0)
	c2 := s.New(2, b, a, convkey.KindTCP, 2000, 1000, 0)
	require.Greater(t, c2.Index, c1.Index)

	assert.Equal(t, c2, s.Find(3, a, b, convkey.KindTCP, 1000, 2000, 0))
	assert.Equal(t, c2, s.Find(3, b, a, convkey.KindTCP, 2000, 1000, 0))
}

func TestReverseDirectionMatches(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, b, convkey.KindTCP, 1000, 80, 0)

	// The reply packet sees the tuple swapped.
	assert.Equal(t, c, s.Find(2, b, a, convkey.KindTCP, 80, 1000, 0))
}

func TestPortWildcardPromotesInPlace(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, b, convkey.KindTCP, 21, 0, OptNoPort2)

	got := s.Find(2, a, b, convkey.KindTCP, 21, 20000, 0)
	require.Equal(t, c, got)

	// The record is now concrete: matched port filled in, wildcard
	// cleared, and the exact table answers for it.
	assert.Equal(t, uint32(20000), c.Port2())
	assert.Zero(t, c.Options&OptNoPort2)
	assert.Equal(t, c, s.Find(3, a, b, convkey.KindTCP, 21, 20000, 0))

	// The wildcard is gone, so another port no longer matches.
	assert.Nil(t, s.Find(4, a, b, convkey.KindTCP, 21, 33333, 0))
}

func TestForcedPortWildcardStays(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, b, convkey.KindTCP, 5060, 0, OptNoPort2|OptNoPort2Force)

	got := s.Find(2, a, b, convkey.KindTCP, 5060, 40000, 0)
	require.Equal(t, c, got)
	assert.NotZero(t, c.Options&OptNoPort2)

	// Still wildcarded: a different peer port keeps matching.
	assert.Equal(t, c, s.Find(3, a, b, convkey.KindTCP, 5060, 41000, 0))
}

func TestAddrWildcardPromotesInPlace(t *testing.T) {
	s := testSession()
	a, c2 := ep("10.0.0.1"), ep("10.0.0.9")

	c := s.New(1, a, gopacket.Endpoint{}, convkey.KindTCP, 80, 9999, OptNoAddr2)

	got := s.Find(2, a, c2, convkey.KindTCP, 80, 9999, 0)
	require.Equal(t, c, got)
	assert.Equal(t, c2, c.Addr2())
	assert.Zero(t, c.Options&OptNoAddr2)

	assert.Equal(t, c, s.Find(3, a, c2, convkey.KindTCP, 80, 9999, 0))
	assert.Nil(t, s.Find(4, a, ep("10.0.0.10"), convkey.KindTCP, 80, 9999, 0))
}

func TestUDPWildcardNeverPromoted(t *testing.T) {
	s := testSession()
	a := ep("10.0.0.1")

	c := s.New(1, a, gopacket.Endpoint{}, convkey.KindUDP, 53, 1234, OptNoAddr2)

	got := s.Find(2, a, ep("10.0.0.7"), convkey.KindUDP, 53, 1234, 0)
	require.Equal(t, c, got)
	assert.NotZero(t, c.Options&OptNoAddr2)

	// Any peer keeps resolving to the same wildcard record.
	assert.Equal(t, c, s.Find(3, a, ep("10.0.0.8"), convkey.KindUDP, 53, 1234, 0))
}

func TestBothWildcarded(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, gopacket.Endpoint{}, convkey.KindTCP, 179, 0, OptNoAddr2|OptNoPort2)

	got := s.Find(2, a, b, convkey.KindTCP, 179, 30000, 0)
	require.Equal(t, c, got)
	assert.Equal(t, b, c.Addr2())
	assert.Equal(t, uint32(30000), c.Port2())
	assert.Zero(t, c.Options&(OptNoAddr2|OptNoPort2))
}

func TestAddressPairOnly(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, b, convkey.KindNone, 0, 0, OptNoPorts)

	assert.Equal(t, c, s.Find(2, a, b, convkey.KindNone, 0, 0, FindNoPortX))
	assert.Equal(t, c, s.Find(2, b, a, convkey.KindNone, 0, 0, FindNoPortX))
	assert.Nil(t, s.Find(2, a, ep("10.0.0.3"), convkey.KindNone, 0, 0, FindNoPortX))
}

func TestFindByID(t *testing.T) {
	s := testSession()

	c := s.NewByID(10, convkey.KindSCTP, 42)

	assert.Equal(t, c, s.FindByID(11, convkey.KindSCTP, 42))
	assert.Nil(t, s.FindByID(11, convkey.KindSCTP, 43))
	assert.Nil(t, s.FindByID(9, convkey.KindSCTP, 42))
	assert.Nil(t, s.FindByID(11, convkey.KindTCP, 42))
}

func TestFindFullArbitraryShape(t *testing.T) {
	s := testSession()

	key := convkey.Key{
		Elements: []convkey.Element{
			convkey.Str("session-7"), convkey.Uint64(0xdeadbeef), convkey.Blob([]byte{1, 2}),
		},
		Kind: convkey.KindBluetooth,
	}
	c := s.NewFull(3, key)
	require.NotNil(t, c)

	assert.Equal(t, c, s.FindFull(4, key))
	other := key.Clone()
	other.Elements[2] = convkey.Blob([]byte{1, 3})
	assert.Nil(t, s.FindFull(4, other))
}

func TestFindOrCreatePinfo(t *testing.T) {
	s := testSession()
	p := &PacketInfo{
		Frame: 1,
		Src:   ep("10.0.0.1"), Dst: ep("10.0.0.2"),
		SrcPort: 1000, DstPort: 80,
		Kind: convkey.KindTCP,
	}

	c := s.FindOrCreate(p)
	require.NotNil(t, c)
	assert.Equal(t, 1, s.Count())

	// Reply direction joins the same conversation and advances the
	// last frame.
	reply := &PacketInfo{
		Frame: 2,
		Src:   ep("10.0.0.2"), Dst: ep("10.0.0.1"),
		SrcPort: 80, DstPort: 1000,
		Kind: convkey.KindTCP,
	}
	assert.Equal(t, c, s.FindOrCreate(reply))
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, uint32(2), c.LastFrame)
}

func TestPacketKeyOverrides(t *testing.T) {
	s := testSession()
	p := &PacketInfo{
		Frame: 5,
		Src:   ep("10.0.0.1"), Dst: ep("10.0.0.2"),
		SrcPort: 1000, DstPort: 80,
		Kind: convkey.KindTCP,
	}
	p.SetElementsByID(convkey.KindIBQP, 77)

	c := s.FindOrCreateByID(p, convkey.KindIBQP, p.IDFromElements(convkey.KindIBQP))
	require.NotNil(t, c)
	assert.Equal(t, uint32(77), p.IDFromElements(convkey.KindIBQP))
	assert.Zero(t, p.IDFromElements(convkey.KindTCP))

	// FindPinfo honors the id override rather than the tuple.
	assert.Equal(t, c, s.FindPinfo(p, 0))
}

func fcEp(last byte) gopacket.Endpoint {
	return gopacket.NewEndpoint(convkey.EndpointFibreChannel, []byte{0x01, 0x02, last})
}

func TestFibreChannelReplyKeepsPortOrder(t *testing.T) {
	s := testSession()
	a, b := fcEp(0xaa), fcEp(0xbb)

	// The exchange record was created from the originator's view:
	// (b, oxid, a, rxid).
	c := s.New(1, b, a, convkey.KindNone, 10, 20, 0)

	// The responder's frame runs a→b, but OXID/RXID keep their order on
	// the wire, so the plain reverse attempt misses and the unswapped
	// extra attempt has to hit.
	assert.Equal(t, c, s.Find(2, a, b, convkey.KindNone, 10, 20, 0))

	// IP addresses in the same layout get no such extra attempt.
	s2 := testSession()
	x, y := ep("10.0.0.1"), ep("10.0.0.2")
	s2.New(1, y, x, convkey.KindTCP, 10, 20, 0)
	assert.Nil(t, s2.Find(2, x, y, convkey.KindTCP, 10, 20, 0))
}

func TestIBQPSkipsReverseBothWildcard(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c := s.New(1, a, gopacket.Endpoint{}, convkey.KindIBQP, 5000, 0,
		OptNoAddr2|OptNoPort2)

	// The peer's queue pair is a distinct conversation: the
	// reverse-direction both-wildcard attempt must not claim it.
	assert.Nil(t, s.Find(2, b, a, convkey.KindIBQP, 9999, 5000, 0))

	// The forward direction still matches and promotes as usual.
	got := s.Find(3, a, b, convkey.KindIBQP, 5000, 9999, 0)
	require.Equal(t, c, got)
	assert.Equal(t, b, c.Addr2())
	assert.Equal(t, uint32(9999), c.Port2())

	// Control: a TCP record in the same state is matched in reverse.
	s2 := testSession()
	c2 := s2.New(1, a, gopacket.Endpoint{}, convkey.KindTCP, 5000, 0,
		OptNoAddr2|OptNoPort2)
	assert.Equal(t, c2, s2.Find(2, b, a, convkey.KindTCP, 9999, 5000, 0))
}
