package capture

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeEmptyPcap writes a valid pcap file with a global header and no
// packet records.
func writeEmptyPcap(t *testing.T, path string) {
	t.Helper()

	var buf bytes.Buffer
	for _, v := range []interface{}{
		uint32(0xa1b2c3d4), // magic, microsecond timestamps
		uint16(2),          // major version
		uint16(4),          // minor version
		int32(0),           // thiszone
		uint32(0),          // sigfigs
		uint32(65535),      // snaplen
		uint32(1),          // LINKTYPE_ETHERNET
	} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestPcapReaderPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	writeEmptyPcap(t, path)

	r, err := NewPcapReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, path, r.Path())
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
}

func TestPcapReaderMissingFile(t *testing.T) {
	_, err := NewPcapReader(filepath.Join(t.TempDir(), "absent.pcap"))
	require.Error(t, err)
}
