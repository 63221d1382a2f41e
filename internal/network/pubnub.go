package network

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"queue-system/models"
)

type mirrorJob struct {
	channel string
	message models.Message
}

// PubNubMirror republishes per-user pushes on the user-<id> channel so
// clients without a socket can still follow their queues. Publishing runs
// on its own goroutine; when the buffer is full messages are dropped.
type PubNubMirror struct {
	publish func(channel string, message any) error
	jobs    chan mirrorJob
}

func NewPubNubMirror(pn *pubnub.PubNub, buffer int) *PubNubMirror {
	return newMirror(func(channel string, message any) error {
		_, _, err := pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		return err
	}, buffer)
}

func newMirror(publish func(string, any) error, buffer int) *PubNubMirror {
	if buffer <= 0 {
		buffer = 256
	}
	return &PubNubMirror{publish: publish, jobs: make(chan mirrorJob, buffer)}
}

func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func (m *PubNubMirror) Publish(userID string, msg models.Message) {
	select {
	case m.jobs <- mirrorJob{channel: UserChannel(userID), message: msg}:
	default:
		slog.Warn("PubNub mirror buffer full, dropping message", "userId", userID, "type", msg.Type)
	}
}

// Run publishes queued messages until ctx is done.
func (m *PubNubMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			if err := m.publish(job.channel, job.message); err != nil {
				slog.Error("PubNub publish failed", "channel", job.channel, "error", err)
			}
		}
	}
}
