package worker

import (
	"context"

	"docqa/internal/ingest"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type Runner interface {
	Run(ctx context.Context, task ingest.Task) error
}
