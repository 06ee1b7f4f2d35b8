package zsock

import "context"

type OnConnect func(ctx context.Context, conn Conn) error

// OnRead is called on a pooled goroutine when new input is buffered. It is
// never run concurrently for the same connection.
type OnRead func(ctx context.Context, conn Conn) error

type EventHandler interface {
	OnConnect(ctx context.Context, conn Conn) error
	OnRead(ctx context.Context, conn Conn) error
}
