package tproxy

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PipeBufSize is the capacity every relay pipe is raised to via
// F_SETPIPE_SZ: 1 MiB, bounding kernel memory at 2 MiB per TCP session
// (one pipe per direction).
const PipeBufSize = 1 << 20

// Pipe owns a non-blocking, close-on-exec kernel pipe used as the
// intermediate buffer for a splice(2) relay. Both ends must be released
// exactly once; Close is idempotent.
type Pipe struct {
	r, w      int
	closeOnce sync.Once
	closeErr  error
}

// NewPipe creates a pipe and raises its capacity to PipeBufSize. Failure
// to raise the capacity is treated as fatal.
func NewPipe() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("tproxy: pipe2: %w", err)
	}
	p := &Pipe{r: fds[0], w: fds[1]}

	if _, err := unix.FcntlInt(uintptr(p.w), unix.F_SETPIPE_SZ, PipeBufSize); err != nil {
		p.Close()
		return nil, fmt.Errorf("tproxy: raise pipe size: %w", err)
	}
	return p, nil
}

// ReadFD is the pipe's read end, for splicing pipe -> destination.
func (p *Pipe) ReadFD() int { return p.r }

// WriteFD is the pipe's write end, for splicing source -> pipe.
func (p *Pipe) WriteFD() int { return p.w }

// Close releases both ends of the pipe. Safe to call more than once;
// only the first call has effect.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		errR := unix.Close(p.r)
		errW := unix.Close(p.w)
		if errR != nil {
			p.closeErr = errR
			return
		}
		p.closeErr = errW
	})
	return p.closeErr
}
