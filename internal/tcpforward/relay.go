package tcpforward

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/mastercactapus/mmproxy/internal/tproxy"
)

// spliceRelay moves bytes from src to dst through a kernel pipe using
// splice(2), without ever copying the data into userspace. It runs
// until src reaches EOF and every byte already read from src has been
// written to dst, or until a non-EAGAIN error occurs on either side.
func spliceRelay(src, dst *net.TCPConn) error {
	pipe, err := tproxy.NewPipe()
	if err != nil {
		return err
	}
	defer pipe.Close()

	srcRaw, err := src.SyscallConn()
	if err != nil {
		return fmt.Errorf("tcpforward: src syscallconn: %w", err)
	}
	dstRaw, err := dst.SyscallConn()
	if err != nil {
		return fmt.Errorf("tcpforward: dst syscallconn: %w", err)
	}

	var held int
	srcDone := false

	for {
		if !srcDone && held < tproxy.PipeBufSize {
			var fillErr error
			err := srcRaw.Read(func(fd uintptr) bool {
				for held < tproxy.PipeBufSize {
					n, err := unix.Splice(int(fd), nil, pipe.WriteFD(), nil, tproxy.PipeBufSize-held, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
					if n > 0 {
						held += int(n)
					}
					if err == nil {
						if n == 0 {
							srcDone = true
							return true
						}
						continue
					}
					if errors.Is(err, unix.EAGAIN) {
						// Drain what is held before waiting on src again.
						return held > 0
					}
					fillErr = fmt.Errorf("splice src->pipe: %w", err)
					return true
				}
				return true
			})
			if err != nil {
				return fmt.Errorf("tcpforward: read src: %w", err)
			}
			if fillErr != nil {
				return fillErr
			}
		}

		if held > 0 {
			var drainErr error
			err := dstRaw.Write(func(fd uintptr) bool {
				for held > 0 {
					n, err := unix.Splice(pipe.ReadFD(), nil, int(fd), nil, held, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
					if n > 0 {
						held -= int(n)
					}
					if err == nil {
						continue
					}
					if errors.Is(err, unix.EAGAIN) {
						return false
					}
					drainErr = fmt.Errorf("splice pipe->dst: %w", err)
					return true
				}
				return true
			})
			if err != nil {
				return fmt.Errorf("tcpforward: write dst: %w", err)
			}
			if drainErr != nil {
				return drainErr
			}
		}

		if srcDone && held == 0 {
			return nil
		}
	}
}
