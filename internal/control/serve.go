package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/logx"
)

// readTimeout bounds how long a client may take to send its command.
const readTimeout = 10 * time.Second

// Serve accepts connections on a unix socket at path until ctx is done.
// Each connection carries one command: the client writes it, half-closes,
// and reads the reply line.
func (l *Listener) Serve(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", path, err)
	}
	l.log.Info("control listener started", logx.String("socket", path))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				os.Remove(path)
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	reply := l.Handle(ctx, conn)
	if _, err := io.WriteString(conn, reply+"\n"); err != nil {
		l.log.Warn("control reply not delivered", logx.Err(err))
	}
}

// Request sends one command to a listener at path and returns the reply.
func Request(ctx context.Context, path string, cmd Command) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("control: dial %s: %w", path, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("control: encode: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return "", fmt.Errorf("control: write: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	b, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("control: read: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
