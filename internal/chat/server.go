package chat

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Server accepts inbound TCP connections and hands each session's run loop
// to a bounded worker pool. When the pool is exhausted, accepted sessions
// queue until a worker frees up.
type Server struct {
	hub      *Hub
	pool     *pool.Pool
	ln       net.Listener
	udpPort  int
	maxVoice int64
}

func NewServer(hub *Hub, udpPort int, maxVoice int64, poolSize int) *Server {
	return &Server{
		hub:      hub,
		pool:     pool.New().WithMaxGoroutines(poolSize),
		udpPort:  udpPort,
		maxVoice: maxVoice,
	}
}

// Listen binds the TCP port and logs the non-loopback IPv4 addresses as an
// operator aid for clients on other machines.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind tcp port %d: %w", port, err)
	}
	s.ln = ln
	if ips := localIPv4s(); len(ips) > 0 {
		log.Info().Str("module", "chat.server").Str("ips", strings.Join(ips, ", ")).Msg("local addresses")
	}
	log.Info().Str("module", "chat.server").Int("tcp_port", s.Port()).Int("udp_port", s.udpPort).Msg("listening")
	return nil
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		sess := NewSession(conn, s.hub, s.udpPort, s.maxVoice)
		id := s.hub.Register(sess)
		log.Info().Str("module", "chat.server").Int("sid", id).Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		s.pool.Go(sess.Run)
	}
}

// Close stops the accept loop; in-flight sessions continue until their
// peers disconnect.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Wait blocks until every session worker has finished.
func (s *Server) Wait() {
	s.pool.Wait()
}

func localIPv4s() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var ips []string
	for _, ni := range ifaces {
		if ni.Flags&net.FlagUp == 0 || ni.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.To4() == nil || ip.IsLoopback() {
				continue
			}
			ips = append(ips, ip.String())
		}
	}
	return ips
}
