package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/logging"
)

// node state
const (
	KILL = iota
	ALIVE
)

// MethodPing is answered by every node with OK(0).
const MethodPing = "PING"

var ErrStopped = errors.New("node stopped")

// Handler answers a request received from peer.
type Handler func(ctx context.Context, peer string, req Request) Response

// HandlerFunc adapts a context free function to Handler.
func HandlerFunc(fn func(Request) Response) Handler {
	return func(_ context.Context, _ string, req Request) Response {
		return fn(req)
	}
}

type NodeConf struct {
	Socket *Socket
	// Codec defaults to JSONCodec.
	Codec Codec
	// Timeout bounds Request when the caller's context has no deadline.
	// Zero waits for the context only.
	Timeout time.Duration
	// RecvTimeout is how often the listen daemon checks whether it was
	// stopped. Defaults to 100ms.
	RecvTimeout time.Duration
}

// Node exchanges requests and responses with its counterparties over a
// Socket. Responses are matched to requests by frame id.
type Node struct {
	zerolog.Logger
	sock  *Socket
	codec Codec
	conf  NodeConf

	stat int32
	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	nextID uint32

	hMu      sync.RWMutex
	handlers map[string]Handler

	fMu     sync.Mutex
	futures map[uint32]chan Response
}

func NewNode(conf NodeConf) *Node {
	if conf.Codec == nil {
		conf.Codec = JSONCodec{}
	}
	if conf.RecvTimeout == 0 {
		conf.RecvTimeout = 100 * time.Millisecond
	}
	n := &Node{
		sock:     conf.Socket,
		codec:    conf.Codec,
		conf:     conf,
		handlers: make(map[string]Handler),
		futures:  make(map[uint32]chan Response),
		done:     make(chan struct{}),
	}
	n.Logger = logging.RootLogger.With().Str("Component", "Negotiation").Str("addr", n.Addr()).Logger()
	n.Handle(MethodPing, HandlerFunc(func(Request) Response { return NewResponse(OK(0)) }))
	return n
}

func (n *Node) Addr() string {
	return n.sock.GetAddress()
}

// Handle registers h for method, replacing any previous handler.
func (n *Node) Handle(method string, h Handler) {
	n.hMu.Lock()
	defer n.hMu.Unlock()
	n.handlers[method] = h
}

func (n *Node) handler(method string) (Handler, bool) {
	n.hMu.RLock()
	defer n.hMu.RUnlock()
	h, ok := n.handlers[method]
	return h, ok
}

func (n *Node) isKilled() bool {
	return atomic.LoadInt32(&n.stat) == KILL
}

// Start launches the listen daemon.
func (n *Node) Start() {
	n.ctx, n.stop = context.WithCancel(context.Background())
	atomic.StoreInt32(&n.stat, ALIVE)
	go n.listenDaemon()
	n.Info().Msg("started")
}

// Stop kills the listen daemon and closes the socket.
func (n *Node) Stop() error {
	if !atomic.CompareAndSwapInt32(&n.stat, ALIVE, KILL) {
		return ErrStopped
	}
	n.stop()
	err := n.sock.Close()
	<-n.done
	n.Info().Msg("stopped")
	return err
}

func (n *Node) listenDaemon() {
	defer close(n.done)
	for !n.isKilled() {
		d, err := n.sock.Recv(n.conf.RecvTimeout)
		if errors.As(err, new(TimeoutErr)) {
			continue
		}
		if err != nil {
			if !n.isKilled() {
				n.Err(err).Msg("recv failed")
			}
			continue
		}
		frame, err := n.codec.Decode(d.Data)
		if err != nil {
			n.Warn().Err(err).Str("peer", d.Peer).Msg("dropping datagram")
			continue
		}
		switch frame.Type {
		case FrameRequest:
			go n.serve(d.Peer, frame)
		case FrameResponse:
			n.complete(frame)
		default:
			n.Warn().Str("peer", d.Peer).Msgf("dropping frame of type %q", frame.Type)
		}
	}
}

func (n *Node) serve(peer string, frame Frame) {
	resp := n.dispatch(peer, frame)
	out, err := newFrame(FrameResponse, frame.ID, resp)
	if err != nil {
		n.Err(err).Send()
		return
	}
	if err := n.send(peer, out); err != nil {
		n.Err(err).Str("peer", peer).Msg("failed to answer")
	}
}

func (n *Node) dispatch(peer string, frame Frame) Response {
	var req Request
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		n.Warn().Err(err).Str("peer", peer).Msg("malformed request")
		return NewResponse(StatusMalformed)
	}
	h, ok := n.handler(req.Method)
	if !ok {
		n.Warn().Str("peer", peer).Msgf("no handler for %s", req.Method)
		return NewResponse(StatusUnknownMethod)
	}
	resp := h(n.ctx, peer, req)
	n.Debug().Str("peer", peer).Str("status", resp.Status.String()).Msgf("answered %s", req.Method)
	return resp
}

// complete hands a response to the request waiting for it. Late responses
// find no future and are dropped.
func (n *Node) complete(frame Frame) {
	var resp Response
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		n.Warn().Err(err).Msg("malformed response")
		return
	}
	n.fMu.Lock()
	future, ok := n.futures[frame.ID]
	n.fMu.Unlock()
	if !ok {
		n.Debug().Msgf("response %d has no future to complete", frame.ID)
		return
	}
	select {
	case future <- resp:
	default:
	}
}

func (n *Node) send(dest string, frame Frame) error {
	data, err := n.codec.Encode(frame)
	if err != nil {
		return err
	}
	return n.sock.Send(dest, data, n.conf.Timeout)
}

// Request sends req to dest and waits for the response.
func (n *Node) Request(ctx context.Context, dest string, req Request) (Response, error) {
	if n.isKilled() {
		return Response{}, ErrStopped
	}
	id := atomic.AddUint32(&n.nextID, 1)
	frame, err := newFrame(FrameRequest, id, req)
	if err != nil {
		return Response{}, err
	}

	// register the future before sending so that a fast response finds it
	future := make(chan Response, 1)
	n.fMu.Lock()
	n.futures[id] = future
	n.fMu.Unlock()
	defer func() {
		n.fMu.Lock()
		delete(n.futures, id)
		n.fMu.Unlock()
	}()

	if err := n.send(dest, frame); err != nil {
		return Response{}, fmt.Errorf("failed to send %s: %w", req.Method, err)
	}

	var timer <-chan time.Time
	if _, ok := ctx.Deadline(); !ok && n.conf.Timeout > 0 {
		timer = time.After(n.conf.Timeout)
	}
	select {
	case resp := <-future:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer:
		return Response{}, fmt.Errorf("no response to %s: %w", req.Method, TimeoutErr(n.conf.Timeout))
	case <-n.done:
		return Response{}, ErrStopped
	}
}
