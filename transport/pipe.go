package transport

import (
	"github.com/RoanBrand/goBuffers"
)

// pipeEnd is one side of an in-memory two way wire.
type pipeEnd struct {
	r *goBuffers.BlockingReadWriter
	w *goBuffers.BlockingReadWriter
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeEnd) Close() error                { return nil }

// NewPipe returns two channels connected back to back in memory. Closing
// an end does not unblock a pending Receive on it.
func NewPipe() (*StreamChannel, *StreamChannel) {
	a, b := goBuffers.NewBlockingReadWriter(), goBuffers.NewBlockingReadWriter()
	return NewStreamChannel(&pipeEnd{r: a, w: b}), NewStreamChannel(&pipeEnd{r: b, w: a})
}
