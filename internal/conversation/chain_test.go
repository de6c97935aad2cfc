package conversation

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convtrack/internal/convkey"
)

func testSession() *Session {
	return NewSession(zap.NewNop(), 0)
}

func ep(s string) gopacket.Endpoint {
	return layers.NewIPEndpoint(net.ParseIP(s))
}

func exactKey(addr1 gopacket.Endpoint, port1 uint32, addr2 gopacket.Endpoint, port2 uint32,
	kind convkey.Kind) convkey.Key {
	return convkey.Key{
		Elements: []convkey.Element{
			convkey.Addr{Endpoint: addr1}, convkey.Port(port1),
			convkey.Addr{Endpoint: addr2}, convkey.Port(port2),
		},
		Kind: kind,
	}
}

// chainFrames walks the chain filed under key and returns the setup
// frames in chain order.
func chainFrames(s *Session, tbl *table, key convkey.Key) []uint32 {
	var out []uint32
	for h := tbl.lookup(s, key); h != noConv; h = s.at(h).next {
		out = append(out, s.at(h).SetupFrame)
	}
	return out
}

func chainTail(s *Session, tbl *table, key convkey.Key) *Conversation {
	h := tbl.lookup(s, key)
	if h == noConv {
		return nil
	}
	c := s.at(h)
	for s.at(c.handle).next != noConv {
		c = s.at(c.next)
	}
	return c
}

func TestChainStaysOrderedBySetupFrame(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	key := exactKey(a, 80, b, 1000, convkey.KindTCP)

	// Out-of-order setup frames: head replacement, middle splice and
	// in-order append all get exercised.
	for _, frame := range []uint32{5, 1, 9, 3, 7} {
		s.New(frame, a, b, convkey.KindTCP, 80, 1000, 0)

		frames := chainFrames(s, s.exact, key)
		for i := 1; i < len(frames); i++ {
			assert.LessOrEqual(t, frames[i-1], frames[i], "chain order after insert of %d: %v", frame, frames)
		}

		head := s.at(s.exact.lookup(s, key))
		tail := chainTail(s, s.exact, key)
		require.NotNil(t, head)
		assert.Equal(t, tail.handle, head.last, "head.last must reference the true tail")
	}

	assert.Equal(t, []uint32{1, 3, 5, 7, 9}, chainFrames(s, s.exact, key))
}

func TestRemoveThenReinsertReproducesOrder(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	key := exactKey(a, 443, b, 5555, convkey.KindTCP)

	c1 := s.New(1, a, b, convkey.KindTCP, 443, 5555, 0)
	c2 := s.New(2, a, b, convkey.KindTCP, 443, 5555, 0)
	c3 := s.New(3, a, b, convkey.KindTCP, 443, 5555, 0)

	for _, member := range []*Conversation{c2, c1, c3} {
		s.chainRemove(s.exact, member)
		s.chainInsert(s.exact, member)

		assert.Equal(t, []uint32{1, 2, 3}, chainFrames(s, s.exact, key),
			"after remove/reinsert of setup=%d", member.SetupFrame)
		head := s.at(s.exact.lookup(s, key))
		assert.Equal(t, chainTail(s, s.exact, key).handle, head.last)
	}
}

func TestRemoveSoleMemberDropsEntry(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	key := exactKey(a, 80, b, 2000, convkey.KindTCP)

	c := s.New(4, a, b, convkey.KindTCP, 80, 2000, 0)
	s.chainRemove(s.exact, c)

	assert.Equal(t, noConv, s.exact.lookup(s, key))
	assert.Nil(t, s.Find(10, a, b, convkey.KindTCP, 80, 2000, 0))

	s.chainInsert(s.exact, c)
	assert.Equal(t, c, s.Find(10, a, b, convkey.KindTCP, 80, 2000, 0))
}

func TestLookupNeverReturnsFutureRecord(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	s.New(10, a, b, convkey.KindTCP, 80, 3000, 0)

	assert.Nil(t, s.Find(5, a, b, convkey.KindTCP, 80, 3000, 0))
	assert.Nil(t, s.Find(9, a, b, convkey.KindTCP, 80, 3000, 0))
	assert.NotNil(t, s.Find(10, a, b, convkey.KindTCP, 80, 3000, 0))
}

func TestLookupPicksGreatestSetupAtOrBeforeFrame(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")

	c1 := s.New(1, a, b, convkey.KindTCP, 80, 4000, 0)
	c5 := s.New(5, a, b, convkey.KindTCP, 80, 4000, 0)
	c9 := s.New(9, a, b, convkey.KindTCP, 80, 4000, 0)

	assert.Equal(t, c1, s.Find(1, a, b, convkey.KindTCP, 80, 4000, 0))
	assert.Equal(t, c1, s.Find(4, a, b, convkey.KindTCP, 80, 4000, 0))
	assert.Equal(t, c5, s.Find(6, a, b, convkey.KindTCP, 80, 4000, 0))
	assert.Equal(t, c9, s.Find(9, a, b, convkey.KindTCP, 80, 4000, 0))
	assert.Equal(t, c9, s.Find(100, a, b, convkey.KindTCP, 80, 4000, 0))

	// The cache from the frame=100 lookup must not leak into an earlier
	// frame's answer.
	assert.Equal(t, c1, s.Find(2, a, b, convkey.KindTCP, 80, 4000, 0))
}
