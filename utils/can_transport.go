package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// DefaultRxBacklog bounds the frames buffered between the receive goroutine
// and the control loop.
const DefaultRxBacklog = 256

// SocketCANBus sends and receives frames on one SocketCAN interface. A single
// goroutine blocks in Receive and hands frames to the loop through a buffered
// channel; when the buffer is full the oldest waiting frame is dropped.
type SocketCANBus struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   chan can.Frame
	log  *Logger

	mu      sync.Mutex
	err     error
	dropped uint64
	done    chan struct{}
}

func NewSocketCANBus(ctx context.Context, iface string, log *Logger) (*SocketCANBus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	if log == nil {
		log = Discard()
	}
	b := &SocketCANBus{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
		rx:   make(chan can.Frame, DefaultRxBacklog),
		log:  log,
		done: make(chan struct{}),
	}
	go b.receiveLoop(socketcan.NewReceiver(conn))
	return b, nil
}

func (b *SocketCANBus) receiveLoop(recv *socketcan.Receiver) {
	defer close(b.done)
	for recv.Receive() {
		if recv.HasErrorFrame() {
			ef := recv.ErrorFrame()
			b.log.Warn("CAN error frame: %v", ef.ErrorClass)
			continue
		}
		f := recv.Frame()
		select {
		case b.rx <- f:
		default:
			select {
			case <-b.rx:
			default:
			}
			b.rx <- f
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
	b.mu.Lock()
	b.err = recv.Err()
	b.mu.Unlock()
	if err := recv.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		b.log.Error("CAN receive stopped: %v", err)
	}
}

// Send transmits one frame.
func (b *SocketCANBus) Send(ctx context.Context, f can.Frame) error {
	if err := b.tx.TransmitFrame(ctx, f); err != nil {
		return fmt.Errorf("transmit 0x%X: %w", f.ID, err)
	}
	return nil
}

// TryReceive returns the next buffered frame without blocking.
func (b *SocketCANBus) TryReceive() (can.Frame, bool) {
	select {
	case f := <-b.rx:
		return f, true
	default:
		return can.Frame{}, false
	}
}

// Dropped counts frames lost to a full receive buffer.
func (b *SocketCANBus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Err reports why the receive goroutine stopped.
func (b *SocketCANBus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed once the receive goroutine has exited.
func (b *SocketCANBus) Done() <-chan struct{} { return b.done }

func (b *SocketCANBus) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
