// Package relay mirrors audio datagrams among every peer it has heard from.
// There is no signaling: sending any packet to the relay port joins the
// call, and endpoints are never evicted for the life of the process.
package relay

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Packets larger than this are truncated. Typical PCM frames at
// 16 kHz/16-bit mono stay under 2 KiB.
const readBufferSize = 10240

type Relay struct {
	conn *net.UDPConn

	mu        sync.Mutex
	endpoints map[string]*net.UDPAddr
}

// Start binds the UDP port and launches the receive loop. port 0 binds an
// ephemeral port; Port reports the one actually bound.
func Start(port int) (*Relay, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	r := &Relay{
		conn:      conn,
		endpoints: make(map[string]*net.UDPAddr),
	}
	go r.loop()
	log.Info().Str("module", "relay").Int("port", r.Port()).Msg("UDP relay listening")
	return r, nil
}

func (r *Relay) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close shuts the socket; the receive loop exits on the next read.
func (r *Relay) Close() error {
	return r.conn.Close()
}

func (r *Relay) loop() {
	buf := make([]byte, readBufferSize)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Str("module", "relay").Msg("udp receive")
			continue
		}
		r.forward(buf[:n], src)
	}
}

func (r *Relay) forward(payload []byte, src *net.UDPAddr) {
	r.mu.Lock()
	key := src.String()
	if _, known := r.endpoints[key]; !known {
		r.endpoints[key] = src
		log.Info().Str("module", "relay").Str("endpoint", key).Msg("learned endpoint")
	}
	dests := make([]*net.UDPAddr, 0, len(r.endpoints))
	for k, addr := range r.endpoints {
		if k != key {
			dests = append(dests, addr)
		}
	}
	r.mu.Unlock()

	for _, dst := range dests {
		if _, err := r.conn.WriteToUDP(payload, dst); err != nil {
			log.Debug().Err(err).Str("module", "relay").Str("endpoint", dst.String()).Msg("udp send")
		}
	}
}

// Endpoints returns the addresses observed so far.
func (r *Relay) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.endpoints))
	for k := range r.endpoints {
		out = append(out, k)
	}
	return out
}
