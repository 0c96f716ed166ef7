package scum

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildInfoPayload() []byte {
	payload := []byte{0x11} // protocol
	payload = append(payload, []byte("SCUM Test Server\x00")...)
	payload = append(payload, []byte("Island\x00")...)
	payload = append(payload, []byte("scum\x00")...)
	payload = append(payload, []byte("SCUM\x00")...)
	payload = append(payload, 0xD0, 0x0E) // appid little-endian
	payload = append(payload, 12, 64, 1)  // players, max, bots
	payload = append(payload, 'd', 'l', 0, 1)
	payload = append(payload, []byte("0.9.512.77650\x00")...)
	return payload
}

func TestParseInfoResponse(t *testing.T) {
	info, err := parseInfoResponse(buildInfoPayload())
	require.NoError(t, err)

	assert.Equal(t, "SCUM Test Server", info.Name)
	assert.Equal(t, "Island", info.Map)
	assert.Equal(t, "0.9.512.77650", info.Version)
	assert.Equal(t, 12, info.Players)
	assert.Equal(t, 64, info.MaxPlayers)
	assert.Equal(t, 1, info.Bots)
}

func TestParseInfoResponseTruncated(t *testing.T) {
	full := buildInfoPayload()
	for _, n := range []int{0, 1, 5, 20} {
		_, err := parseInfoResponse(full[:n])
		assert.Error(t, err, "payload truncated to %d bytes", n)
	}
}

// fakeA2SServer answers A2S_INFO over a real UDP socket, with an optional
// challenge round first.
func fakeA2SServer(t *testing.T, challenge bool) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, maxResponse)
		challenged := false
		for {
			pc.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			_ = n
			if challenge && !challenged {
				challenged = true
				pc.WriteTo(append([]byte(a2sHeader+"\x41"), 0xDE, 0xAD, 0xBE, 0xEF), addr)
				continue
			}
			reply := append([]byte(a2sHeader), a2sInfoReply)
			reply = append(reply, buildInfoPayload()...)
			pc.WriteTo(reply, addr)
		}
	}()

	return pc.LocalAddr().String()
}

func TestQueryInfo(t *testing.T) {
	addr := fakeA2SServer(t, false)
	info, err := NewA2SClient().QueryInfo(addr)
	require.NoError(t, err)
	assert.Equal(t, "SCUM Test Server", info.Name)
	assert.Equal(t, 12, info.Players)
}

func TestQueryInfoWithChallenge(t *testing.T) {
	addr := fakeA2SServer(t, true)
	info, err := NewA2SClient().QueryInfo(addr)
	require.NoError(t, err)
	assert.Equal(t, 64, info.MaxPlayers)
}
