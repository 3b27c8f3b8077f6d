package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Probe opens a single connection to the reader and hands every raw chunk
// to fn, without filtering. It returns after limit chunks (0 for no limit),
// when the reader closes the connection, or when ctx is cancelled.
// Used to inspect how the hardware frames scans.
func Probe(ctx context.Context, d Dialer, addr string, limit int, fn func(chunk []byte)) error {
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for count := 0; limit == 0 || count < limit; count++ {
		n, err := conn.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read %s: %w", addr, err)
		}
	}
	return nil
}
