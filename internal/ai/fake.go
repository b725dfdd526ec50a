package ai

import (
	"context"
	"sync"
)

// Fake is a scriptable Provider for tests: responses are served in order,
// and an error can be injected for the next N calls.
type Fake struct {
	mu        sync.Mutex
	responses []*Response
	failNext  int
	failErr   error
	calls     []Request
}

// NewFake creates a Fake that answers every call with a minimal response.
func NewFake() *Fake {
	return &Fake{}
}

// Queue appends a scripted response.
func (f *Fake) Queue(resp *Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f
}

// FailNext makes the next n calls return err.
func (f *Fake) FailNext(n int, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failErr = err
	return f
}

// Calls returns the requests received so far.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// Process implements Provider.
func (f *Fake) Process(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if f.failNext > 0 {
		f.failNext--
		return nil, f.failErr
	}
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}
	return &Response{
		Data:       []byte(`{"result":"ok"}`),
		Confidence: 0.9,
		TokensUsed: 10,
		Cost:       0.0001,
	}, nil
}
