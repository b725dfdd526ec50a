package channels

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is a scriptable Sender for tests.
type Fake struct {
	mu       sync.Mutex
	sent     []Message
	failNext int
	failErr  error
	seq      int
}

// NewFake creates a Fake sender.
func NewFake() *Fake {
	return &Fake{}
}

// FailNext makes the next n sends return err.
func (f *Fake) FailNext(n int, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failErr = err
	return f
}

// Sent returns the messages delivered so far.
func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

// Send implements Sender.
func (f *Fake) Send(ctx context.Context, msg Message) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		return nil, f.failErr
	}
	f.seq++
	f.sent = append(f.sent, msg)
	return &Receipt{
		ExternalID:  fmt.Sprintf("msg-%d", f.seq),
		DeliveredAt: time.Now().UTC(),
	}, nil
}
