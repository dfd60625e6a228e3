package worker

import (
	"context"

	"relaybox.app/relay/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Dispatcher hands one outbound message to the workflow engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, task queue.DispatchTask) error
}
