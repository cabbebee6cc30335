// Package transport binds the per-peer protocol engine to a shared UDP
// socket. It validates and decodes inbound datagrams, routes them to the
// goroutine owning the matching connection, prunes idle peers, and
// notifies observers of socket state changes.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/1ureka/rudp/internal/conn"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/util"
)

// Options tunes a Socket. Zero values fall back to the defaults.
type Options struct {
	WindowSize    int           // per-connection store capacity
	InboxSize     int           // per-peer inbox channel capacity
	IdleTimeout   time.Duration // no traffic for this long ⇒ marked dead
	PruneInterval time.Duration // dead-connection sweep period
}

const (
	defaultInboxSize     = 64
	defaultIdleTimeout   = 10 * time.Second
	defaultPruneInterval = 5 * time.Second
)

func (o *Options) applyDefaults() {
	if o.WindowSize <= 0 {
		o.WindowSize = conn.DefaultWindowSize
	}
	if o.InboxSize <= 0 {
		o.InboxSize = defaultInboxSize
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = defaultPruneInterval
	}
}

// Socket owns one UDP socket shared by all connections. Each peer gets a
// dedicated goroutine that serializes every operation on its Connection,
// so the engine itself needs no locking; the socket only arbitrates the
// route table.
type Socket struct {
	udp        *net.UDPConn
	dispatcher conn.PacketDispatcher
	opts       Options
	observers  []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	routes map[string]*peer
}

// Listen binds a UDP socket on addr and starts the read loop. Received
// datagrams are routed per peer; drained packets go to d. Observers are
// notified of connection lifecycle and socket errors.
func Listen(ctx context.Context, addr string, d conn.PacketDispatcher, opts Options, observers ...Observer) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "resolve %s", addr)
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "listen on %s", addr)
	}

	opts.applyDefaults()
	sCtx, cancel := context.WithCancel(ctx)

	s := &Socket{
		udp:        udpConn,
		dispatcher: d,
		opts:       opts,
		observers:  observers,
		ctx:        sCtx,
		cancel:     cancel,
		routes:     make(map[string]*peer),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// LocalAddr returns the bound UDP address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.udp.LocalAddr().(*net.UDPAddr)
}

// Close notifies observers, shuts the socket down, and waits for the read
// loop and all peer goroutines to exit.
func (s *Socket) Close() error {
	s.notify(Event{Kind: EventShutdown})
	s.cancel()
	err := s.udp.Close()
	s.wg.Wait()
	return err
}

// Connection returns the caller-facing handle for peerAddr, creating the
// connection on first use. A handle whose connection has been pruned stays
// valid but inert; obtain a fresh one to re-establish contact.
func (s *Socket) Connection(peerAddr string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "resolve %s", peerAddr)
	}
	return &Conn{p: s.getOrCreate(raddr)}, nil
}

// readLoop reads datagrams off the shared socket, enforces the size
// bounds, and hands decoded packets to the owning peer goroutine.
func (s *Socket) readLoop() {
	defer s.wg.Done()

	// One byte beyond the cap so oversize datagrams are detectable.
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, raddr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			util.LogWarning("socket read error: %v", err)
			continue
		}

		if n < protocol.HeaderSize || n > protocol.MaxDatagramSize {
			s.notify(Event{Kind: EventBadPacketSize, Addr: raddr, Size: n})
			continue
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.LogWarning("dropping undecodable datagram from %s: %v", raddr, err)
			continue
		}

		p := s.getOrCreate(raddr)
		select {
		case p.inbox <- pkt:
		default:
			util.LogWarning("inbox full for %s, dropping packet %d", raddr, pkt.Header.SeqNum)
		}
	}
}

// getOrCreate returns the peer state for raddr, creating the connection
// and starting its owning goroutine on first contact.
func (s *Socket) getOrCreate(raddr *net.UDPAddr) *peer {
	key := raddr.String()

	s.mu.Lock()
	p, ok := s.routes[key]
	if !ok {
		p = newPeer(s, raddr)
		s.routes[key] = p
		s.wg.Add(1)
		go p.run()
	}
	s.mu.Unlock()

	if !ok {
		s.notify(Event{Kind: EventConnect, Conn: p.conn})
	}
	return p
}

// removePeer drops a pruned peer from the route table. The next datagram
// from the same address creates a fresh connection.
func (s *Socket) removePeer(key string) {
	s.mu.Lock()
	delete(s.routes, key)
	s.mu.Unlock()
}

func (s *Socket) notify(ev Event) {
	for _, o := range s.observers {
		o.OnEvent(ev)
	}
}
