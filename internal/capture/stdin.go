package capture

import (
	"io"
	"os"
	"sync"
)

const stdinChunkSize = 4096

// stdinPump owns the only reader of a shared input such as os.Stdin. Streams
// take chunks from it and can walk away mid-read without losing alignment:
// chunks are always a whole number of samples and unconsumed bytes stay with
// the pump for the next stream.
type stdinPump struct {
	chunks chan []byte
	err    error // valid once chunks is closed

	mu       sync.Mutex
	leftover []byte
}

var (
	stdinMu     sync.Mutex
	stdinSource *os.File
	stdinShared *stdinPump
)

// sharedStdin returns the pump bound to the current os.Stdin.
func sharedStdin() *stdinPump {
	stdinMu.Lock()
	defer stdinMu.Unlock()
	if stdinShared == nil || stdinSource != os.Stdin {
		stdinSource = os.Stdin
		stdinShared = newStdinPump(os.Stdin)
	}
	return stdinShared
}

func newStdinPump(r io.Reader) *stdinPump {
	p := &stdinPump{chunks: make(chan []byte, 4)}
	go p.run(r)
	return p
}

func (p *stdinPump) run(r io.Reader) {
	defer close(p.chunks)

	var carry []byte
	for {
		buf := make([]byte, len(carry), stdinChunkSize+len(carry))
		copy(buf, carry)
		n, err := r.Read(buf[len(carry):cap(buf)])
		buf = buf[:len(carry)+n]

		even := len(buf) &^ 1
		carry = append(carry[:0], buf[even:]...)
		if even > 0 {
			p.chunks <- buf[:even]
		}
		if err != nil {
			p.err = err
			return
		}
	}
}

// read fills dst from the pump until it is full, the input ends or stop is
// closed. dst must hold a whole number of samples.
func (p *stdinPump) read(dst []byte, stop <-chan struct{}) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(dst) {
		if len(p.leftover) == 0 {
			select {
			case chunk, ok := <-p.chunks:
				if !ok {
					if n > 0 {
						return n, io.ErrUnexpectedEOF
					}
					return 0, p.err
				}
				p.leftover = chunk
			case <-stop:
				return n, ErrStopped
			}
		}
		c := copy(dst[n:], p.leftover)
		p.leftover = p.leftover[c:]
		n += c
	}
	return n, nil
}

// stdinReader adapts the pump to io.Reader for a single stream.
type stdinReader struct {
	pump *stdinPump
	stop <-chan struct{}
}

func (r *stdinReader) Read(p []byte) (int, error) {
	return r.pump.read(p[:len(p)&^1], r.stop)
}
