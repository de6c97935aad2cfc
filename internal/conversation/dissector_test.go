package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convtrack/internal/convkey"
)

func markerHandle(mark *string, name string) HandleFunc {
	return func(p *PacketInfo, conv *Conversation) bool {
		*mark = name
		return true
	}
}

func TestDissectorFrameRanges(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	c := s.New(1, a, b, convkey.KindTCP, 80, 1000, 0)

	var fired string
	s.SetDissector(c, markerHandle(&fired, "base"))
	s.SetDissectorFromFrame(c, 10, markerHandle(&fired, "upgraded"))

	run := func(frame uint32) string {
		fired = ""
		h := s.Dissector(c, frame)
		require.NotNil(t, h)
		h.Dissect(&PacketInfo{Frame: frame}, c)
		return fired
	}

	assert.Equal(t, "base", run(1))
	assert.Equal(t, "base", run(9))
	assert.Equal(t, "upgraded", run(10))
	assert.Equal(t, "upgraded", run(500))
}

func TestDissectorReplaceSameFrame(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	c := s.New(1, a, b, convkey.KindTCP, 80, 1000, 0)

	var fired string
	s.SetDissectorFromFrame(c, 5, markerHandle(&fired, "first"))
	s.SetDissectorFromFrame(c, 5, markerHandle(&fired, "second"))

	h := s.Dissector(c, 5)
	require.NotNil(t, h)
	h.Dissect(&PacketInfo{Frame: 5}, c)
	assert.Equal(t, "second", fired)

	// No handle is in effect before the first range starts.
	assert.Nil(t, s.Dissector(c, 4))
}

func TestTryDissector(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	c := s.New(1, a, b, convkey.KindTCP, 80, 1000, 0)

	p := &PacketInfo{Frame: 2, Src: a, Dst: b, SrcPort: 80, DstPort: 1000, Kind: convkey.KindTCP}

	// No dissector installed yet.
	assert.False(t, s.TryDissector(p, a, b, convkey.KindTCP, 80, 1000, 0))

	var fired string
	s.SetDissector(c, markerHandle(&fired, "tcp"))
	assert.True(t, s.TryDissector(p, a, b, convkey.KindTCP, 80, 1000, 0))
	assert.Equal(t, "tcp", fired)

	// Unknown tuple finds nothing.
	assert.False(t, s.TryDissector(p, a, ep("10.0.0.9"), convkey.KindTCP, 80, 1000, 0))
}

func TestTryDissectorByID(t *testing.T) {
	s := testSession()
	c := s.NewByID(1, convkey.KindSCTP, 42)

	p := &PacketInfo{Frame: 2}
	assert.False(t, s.TryDissectorByID(p, convkey.KindSCTP, 42))

	var fired string
	s.SetDissector(c, markerHandle(&fired, "sctp"))
	assert.True(t, s.TryDissectorByID(p, convkey.KindSCTP, 42))
	assert.False(t, s.TryDissectorByID(p, convkey.KindSCTP, 43))
}

func TestProtoData(t *testing.T) {
	s := testSession()
	a, b := ep("10.0.0.1"), ep("10.0.0.2")
	c := s.New(1, a, b, convkey.KindTCP, 80, 1000, 0)

	const protoA, protoB = 1, 2

	assert.Nil(t, s.ProtoData(c, protoA))

	s.AddProtoData(c, protoA, "alpha")
	s.AddProtoData(c, protoB, 99)
	assert.Equal(t, "alpha", s.ProtoData(c, protoA))
	assert.Equal(t, 99, s.ProtoData(c, protoB))

	// Overwrite under the same protocol id.
	s.AddProtoData(c, protoA, "beta")
	assert.Equal(t, "beta", s.ProtoData(c, protoA))

	s.DeleteProtoData(c, protoA)
	assert.Nil(t, s.ProtoData(c, protoA))
	assert.Equal(t, 99, s.ProtoData(c, protoB))
}
