package scanner

import (
	"bufio"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Handler receives one decoded code. An error is logged and scanning goes on.
type Handler func(ctx context.Context, code string) error

// Listen reads newline-terminated codes from r until EOF or ctx is done.
// Blank lines are skipped; codes are trimmed. If r is an io.Closer it is
// closed when ctx is done, and Listen returns only after the read loop has
// exited.
func Listen(ctx context.Context, r io.Reader, log *zap.Logger, handle Handler) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	readerDone := make(chan struct{})
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer func() {
			if !stop() {
				<-readerDone
			}
		}()
	}
	go func() {
		defer close(readerDone)
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return ctx.Err()
				}
			}
			code := strings.TrimSpace(raw)
			if code == "" {
				continue
			}
			if err := handle(ctx, code); err != nil {
				log.Warn("scan rejected", zap.String("code", code), zap.Error(err))
			}
		}
	}
}
