package wswritechannelmanager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/services"
)

const (
	DefaultQueueSize = 256
	writeWait        = 10 * time.Second
	drainPoll        = time.Millisecond
)

var (
	ErrUnknownClient = errors.New("no connection for client id")
	ErrQueueFull     = errors.New("write queue full")
)

type writeRequest struct {
	msgType int
	data    []byte
}

// connWithWriter wraps a WebSocket connection with a dedicated writer channel
type connWithWriter struct {
	conn      services.WsConn
	writeCh   chan writeRequest
	pending   atomic.Int64 // queued or being written
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (cw *connWithWriter) stop() {
	cw.closeOnce.Do(func() { close(cw.closeCh) })
}

// wsWriteChanManager serialises all writes of a connection through one
// goroutine so callers never block on the network.
type wsWriteChanManager struct {
	connections *haxmap.Map[common.ConnID, *connWithWriter]
	queueSize   int
}

// NewClientWriterManager returns a manager whose per-connection queues hold
// queueSize frames. queueSize <= 0 selects DefaultQueueSize.
func NewClientWriterManager(queueSize int) services.WsWriteChanManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &wsWriteChanManager{
		connections: haxmap.New[common.ConnID, *connWithWriter](),
		queueSize:   queueSize,
	}
}

// SetConnectionForClientID registers conn and starts its writer. A previous
// connection under the same id is stopped.
func (m *wsWriteChanManager) SetConnectionForClientID(clientID common.ConnID, conn services.WsConn) {
	cw := &connWithWriter{
		conn:    conn,
		writeCh: make(chan writeRequest, m.queueSize),
		closeCh: make(chan struct{}),
	}
	if old, ok := m.connections.Get(clientID); ok {
		old.stop()
	}
	m.connections.Set(clientID, cw)
	go m.writerLoop(cw)
}

func (m *wsWriteChanManager) writerLoop(cw *connWithWriter) {
	for {
		select {
		case <-cw.closeCh:
			return
		case req := <-cw.writeCh:
			_ = cw.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := cw.conn.WriteMessage(req.msgType, req.data)
			cw.pending.Add(-1)
			if err != nil {
				// a broken writer ends the connection; the read loop then
				// tears the session down
				cw.conn.Close()
				cw.stop()
				return
			}
		}
	}
}

// DeleteClientID stops the writer. Queued frames not yet written are dropped.
func (m *wsWriteChanManager) DeleteClientID(clientID common.ConnID) {
	if cw, ok := m.connections.Get(clientID); ok {
		cw.stop()
		m.connections.Del(clientID)
	}
}

// WriteMessage queues data without blocking. A full queue drops the frame
// and returns ErrQueueFull.
func (m *wsWriteChanManager) WriteMessage(clientID common.ConnID, messageType int, data []byte) error {
	cw, ok := m.connections.Get(clientID)
	if !ok {
		return ErrUnknownClient
	}
	select {
	case <-cw.closeCh:
		return ErrUnknownClient
	default:
	}
	cw.pending.Add(1)
	select {
	case cw.writeCh <- writeRequest{msgType: messageType, data: data}:
		return nil
	default:
		cw.pending.Add(-1)
		return ErrQueueFull
	}
}

// Drain waits up to timeout for every queued frame of clientID to be written.
// It reports false when frames are still pending at the deadline or the
// writer stopped before writing them.
func (m *wsWriteChanManager) Drain(clientID common.ConnID, timeout time.Duration) bool {
	cw, ok := m.connections.Get(clientID)
	if !ok {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(drainPoll)
	defer poll.Stop()
	for cw.pending.Load() > 0 {
		select {
		case <-cw.closeCh:
			return cw.pending.Load() == 0
		case <-deadline.C:
			return false
		case <-poll.C:
		}
	}
	return true
}

func (m *wsWriteChanManager) Len() int {
	return int(m.connections.Len())
}
