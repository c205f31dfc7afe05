package negotiation

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const bufSize = 9200 // macos max udp datagram is 9216 bytes
const recvBufSize = 100

// TimeoutErr is returned when a socket operation runs out of time.
type TimeoutErr time.Duration

func (err TimeoutErr) Error() string {
	return fmt.Sprintf("timeout reached after %d", time.Duration(err))
}

// Datagram is one received or sent message.
type Datagram struct {
	Peer string
	Data []byte
}

func (d Datagram) copy() Datagram {
	data := make([]byte, len(d.Data))
	copy(data, d.Data)
	return Datagram{Peer: d.Peer, Data: data}
}

// Socket is a UDP socket with blocking, optionally timed, send and receive.
// It keeps a log of the datagrams that went through it.
type Socket struct {
	net.PacketConn
	ins            datagrams
	outs           datagrams
	recvTimeoutBuf chan Datagram
}

// Listen opens a socket on address. ":0" picks a free port.
func Listen(address string) (*Socket, error) {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot create udp socket: %w", err)
	}
	return &Socket{
		PacketConn:     conn,
		recvTimeoutBuf: make(chan Datagram, recvBufSize),
	}, nil
}

// Close returns an error if already closed.
func (s *Socket) Close() error {
	return s.PacketConn.Close()
}

// Send writes data to dest. timeout=0 means no timeout.
func (s *Socket) Send(dest string, data []byte, timeout time.Duration) error {
	if len(data) > bufSize {
		return fmt.Errorf("UDP send error: datagram of %d bytes too large", len(data))
	}
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return fmt.Errorf("UDP send error: %w", err)
	}
	res := make(chan error, 1)
	go func() {
		_, err := s.WriteTo(data, addr)
		res <- err
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = time.After(timeout)
	}
	select {
	case err := <-res:
		if err != nil {
			return fmt.Errorf("UDP send error: %w", err)
		}
	case <-timer:
		return fmt.Errorf("UDP send error: %w", TimeoutErr(timeout))
	}

	s.outs.add(Datagram{Peer: dest, Data: data})
	return nil
}

// Recv blocks until a datagram is received or the timeout is reached, in
// which case it returns a TimeoutErr. timeout=0 means no timeout.
func (s *Socket) Recv(timeout time.Duration) (Datagram, error) {
	// a read that completed after its caller gave up
	select {
	case d := <-s.recvTimeoutBuf:
		s.ins.add(d)
		return d.copy(), nil
	default:
	}

	type result struct {
		d   Datagram
		err error
	}
	res := make(chan result)
	go func() {
		buf := make([]byte, bufSize)
		n, from, err := s.ReadFrom(buf)
		var r result
		if err != nil {
			r.err = err
		} else {
			r.d = Datagram{Peer: from.String(), Data: buf[:n]}
		}
		select {
		case res <- r:
		default:
			// the caller timed out, keep the datagram for the next Recv
			if r.err == nil {
				select {
				case s.recvTimeoutBuf <- r.d:
				default:
				}
			}
		}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = time.After(timeout)
	}
	select {
	case r := <-res:
		if r.err != nil {
			return Datagram{}, fmt.Errorf("UDP Recv error: %w", r.err)
		}
		s.ins.add(r.d)
		return r.d.copy(), nil
	case <-timer:
		return Datagram{}, TimeoutErr(timeout)
	}
}

// GetAddress returns the address assigned. Can be useful in the case one
// provided a :0 address, which makes the system use a random free port.
func (s *Socket) GetAddress() string {
	return s.LocalAddr().String()
}

func (s *Socket) GetIns() []Datagram {
	return s.ins.getAll()
}

func (s *Socket) GetOuts() []Datagram {
	return s.outs.getAll()
}

// utility class
type datagrams struct {
	sync.Mutex
	data []Datagram
}

func (p *datagrams) add(d Datagram) {
	p.Lock()
	defer p.Unlock()

	p.data = append(p.data, d.copy())
}

func (p *datagrams) getAll() []Datagram {
	p.Lock()
	defer p.Unlock()

	res := make([]Datagram, len(p.data))
	for i, d := range p.data {
		res[i] = d.copy()
	}
	return res
}
