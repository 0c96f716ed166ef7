package scum

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	a2sHeader      = "\xff\xff\xff\xff"
	a2sInfoRequest = a2sHeader + "TSource Engine Query\x00"
	a2sInfoReply   = 0x49
	a2sChallenge   = 0x41
	queryTimeout   = 2 * time.Second
	maxResponse    = 1400
)

// A2SInfo is the subset of the Steam query response the automation uses
type A2SInfo struct {
	Name       string
	Map        string
	Version    string
	Players    int
	MaxPlayers int
	Bots       int
}

// A2SClient queries SCUM servers over the Steam A2S protocol
type A2SClient struct{}

// NewA2SClient creates a new A2S UDP client
func NewA2SClient() *A2SClient {
	return &A2SClient{}
}

// QueryInfo sends an A2S_INFO request and parses the reply. Newer servers
// answer the first request with a challenge that must be echoed back.
func (c *A2SClient) QueryInfo(address string) (*A2SInfo, error) {
	conn, err := net.DialTimeout("udp", address, queryTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(queryTimeout))

	request := []byte(a2sInfoRequest)
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := conn.Write(request); err != nil {
			return nil, fmt.Errorf("sending request: %w", err)
		}

		buf := make([]byte, maxResponse)
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		data := buf[:n]

		if len(data) < 5 || !bytes.HasPrefix(data, []byte(a2sHeader)) {
			return nil, fmt.Errorf("invalid response prefix")
		}

		switch data[4] {
		case a2sChallenge:
			if len(data) < 9 {
				return nil, fmt.Errorf("short challenge response")
			}
			request = append([]byte(a2sInfoRequest), data[5:9]...)
			continue
		case a2sInfoReply:
			return parseInfoResponse(data[5:])
		default:
			return nil, fmt.Errorf("unexpected response type 0x%02x", data[4])
		}
	}

	return nil, fmt.Errorf("challenge loop did not converge")
}

// parseInfoResponse parses the A2S_INFO payload after the reply header
func parseInfoResponse(data []byte) (*A2SInfo, error) {
	r := bytes.NewBuffer(data)

	// protocol byte
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("truncated response: %w", err)
	}

	info := &A2SInfo{}
	var err error
	if info.Name, err = readCString(r); err != nil {
		return nil, fmt.Errorf("reading name: %w", err)
	}
	if info.Map, err = readCString(r); err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}
	// folder and game strings, not used
	if _, err = readCString(r); err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	if _, err = readCString(r); err != nil {
		return nil, fmt.Errorf("reading game: %w", err)
	}

	var appID int16
	if err := binary.Read(r, binary.LittleEndian, &appID); err != nil {
		return nil, fmt.Errorf("reading app id: %w", err)
	}

	counts := make([]byte, 3)
	if _, err := r.Read(counts); err != nil {
		return nil, fmt.Errorf("reading player counts: %w", err)
	}
	info.Players = int(counts[0])
	info.MaxPlayers = int(counts[1])
	info.Bots = int(counts[2])

	// server type, environment, visibility, vac bytes
	skip := make([]byte, 4)
	if _, err := r.Read(skip); err != nil {
		return nil, fmt.Errorf("reading server flags: %w", err)
	}

	if info.Version, err = readCString(r); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}

	return info, nil
}

func readCString(r *bytes.Buffer) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}
