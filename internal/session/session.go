// Package session implements the per-connection client session state
// machine (spec.md §4.4): CONNECTING -> OPEN -> CLOSING -> CLOSED, the
// inbound attachment queue and received-attachments map, and the
// single-writer funnel that serializes outbound frames.
//
// Spec.md §5 requires that an RPC invocation may suspend without
// blocking the read loop, so invocations run as independent goroutines
// (internal/handler). Multiple such goroutines can produce outbound
// frames for the same session concurrently, so writes are funneled
// through a per-session queue rather than relying on an await-each-send
// single-writer contract — the option spec.md §5 explicitly allows.
package session

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stepherg/wslink/internal/transport"
)

// State is the client session lifecycle state (spec.md §4.4).
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

// Frame is one outbound WebSocket frame.
type Frame struct {
	Type int
	Data []byte
}

// TextFrame builds a TEXT frame.
func TextFrame(data []byte) Frame { return Frame{Type: transport.TextMessage, Data: data} }

// BinaryFrame builds a BINARY frame.
func BinaryFrame(data []byte) Frame { return Frame{Type: transport.BinaryMessage, Data: data} }

const writeDeadline = 10 * time.Second

// Session holds per-connection state. Methods on the inbound queue and
// received-attachments map are only ever called from the owning read
// loop goroutine (spec.md §5: "mutated only by the owning session").
type Session struct {
	ID        string
	Transport transport.Transport

	state atomic.Int32

	inboundQueue []string
	received     map[string][]byte

	sendMu    sync.Mutex // guards writeCh against send-after-close
	closed    bool
	writeCh   chan []Frame
	writerWG  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a session in the CONNECTING state and starts its writer
// goroutine.
func New(id string, t transport.Transport) *Session {
	s := &Session{
		ID:        id,
		Transport: t,
		received:  make(map[string][]byte),
		writeCh:   make(chan []Frame, 64),
	}
	s.state.Store(int32(Connecting))
	s.writerWG.Add(1)
	go s.writeLoop()
	return s
}

// MarkOpen transitions CONNECTING -> OPEN.
func (s *Session) MarkOpen() { s.state.Store(int32(Open)) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Received exposes the received-attachments map for substitution during
// RPC dispatch. Only safe to call from the owning read loop.
func (s *Session) Received() map[string][]byte { return s.received }

// PushAttachmentHeader appends keys, in order, to the inbound attachment
// queue (spec.md §4.1 decode side).
func (s *Session) PushAttachmentHeader(keys []string) {
	s.inboundQueue = append(s.inboundQueue, keys...)
}

// PushBinary pairs an incoming binary frame with the head of the inbound
// queue. If the queue is empty the frame is silently dropped (spec.md
// invariant: "A binary frame with no pending key is dropped").
func (s *Session) PushBinary(data []byte) {
	if len(s.inboundQueue) == 0 {
		return
	}
	key := s.inboundQueue[0]
	s.inboundQueue = s.inboundQueue[1:]
	s.received[key] = data
}

// Send enqueues a group of frames to be written atomically, in order, by
// the single writer goroutine — e.g. an attachment header, its binary
// frame, and the referencing JSON message, with no other frame ever
// interleaved between them (spec.md §5 "Write ordering").
func (s *Session) Send(frames ...Frame) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		// The session is closing; an in-flight RPC invocation finished
		// after the socket went away. Drop silently (spec.md §5
		// "Cancellation": in-flight handlers run to completion against
		// a closed socket, send failures are logged but don't propagate).
		return
	}
	select {
	case s.writeCh <- frames:
	default:
		// Writer is backed up; drop rather than block the caller's
		// goroutine indefinitely. A slow/stuck client will eventually
		// hit its read deadline and be disconnected.
		log.Printf("wslink: session %s write queue full, dropping frame group", s.ID)
	}
}

func (s *Session) writeLoop() {
	defer s.writerWG.Done()
	for frames := range s.writeCh {
		for _, f := range frames {
			_ = s.Transport.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Transport.WriteMessage(f.Type, f.Data); err != nil {
				// Transport-level send failures are logged and
				// discarded; the session proceeds toward close
				// (spec.md §7 policy).
				log.Printf("wslink: session %s write error: %v", s.ID, err)
				break
			}
		}
	}
}

// Close transitions CLOSING -> CLOSED, closes the transport with the
// given code/reason, and stops the writer goroutine.
func (s *Session) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closing))
		err = s.Transport.Close(code, reason)
		s.sendMu.Lock()
		s.closed = true
		close(s.writeCh)
		s.sendMu.Unlock()
		s.writerWG.Wait()
		s.state.Store(int32(Closed))
	})
	return err
}
