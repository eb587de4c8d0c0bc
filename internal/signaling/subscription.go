package signaling

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/logger"
)

// SubscribeDirect opens a stream of 1:1 signaling records involving the
// given address: ringing records where the address is the callee, and
// state changes to records where it is either party. The stream survives
// Pub/Sub disconnects by retrying with backoff and resyncing missed
// ringing records from the relational store. It closes when ctx is
// cancelled or Close is called on the returned stream.
func (s *Store) SubscribeDirect(ctx context.Context, address string) *Stream[domain.DirectCall] {
	stream := NewStream[domain.DirectCall](constants.StreamBuffer)
	go s.runSubscription(ctx, stream, []string{directChannel(address)}, func() {
		s.resyncDirect(ctx, address, stream)
	}, func(payload string) {
		var call domain.DirectCall
		if err := json.Unmarshal([]byte(payload), &call); err != nil {
			logger.Warn("failed to unmarshal direct call event", zap.Error(err))
			return
		}
		stream.Publish(call)
	})
	return stream
}

// SubscribeGroups opens a stream of group call records for the given
// groups. Reconnect semantics match SubscribeDirect; the resync step
// re-reads the active call set so a record started during a gap is not
// lost.
func (s *Store) SubscribeGroups(ctx context.Context, groupIDs []string) *Stream[domain.GroupCall] {
	stream := NewStream[domain.GroupCall](constants.StreamBuffer)

	channels := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		channels[i] = groupChannel(id)
	}

	go s.runSubscription(ctx, stream, channels, func() {
		s.resyncGroups(ctx, groupIDs, stream)
	}, func(payload string) {
		var call domain.GroupCall
		if err := json.Unmarshal([]byte(payload), &call); err != nil {
			logger.Warn("failed to unmarshal group call event", zap.Error(err))
			return
		}
		stream.Publish(call)
	})
	return stream
}

type closable interface {
	Close()
	Closed() bool
	Done() <-chan struct{}
}

// runSubscription is the shared reconnect loop: resync, consume until the
// Pub/Sub connection drops, back off, repeat. The coordinators above are
// deliberately not responsible for any of this; they only tolerate the
// at-least-once delivery it produces.
func (s *Store) runSubscription(ctx context.Context, stream closable, channels []string, resync func(), handle func(payload string)) {
	defer stream.Close()

	backoff := constants.SubscribeRetryBase
	for {
		resync()

		pubsub := s.redis.Subscribe(ctx, channels...)
		connected := true
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Warn("signaling subscription failed to connect",
				zap.Strings("channels", channels),
				zap.Error(err))
			connected = false
		}

		if connected {
			backoff = constants.SubscribeRetryBase
			ch := pubsub.Channel()
		consume:
			for {
				select {
				case <-ctx.Done():
					pubsub.Close()
					return
				case <-stream.Done():
					pubsub.Close()
					return
				case msg, ok := <-ch:
					if !ok {
						break consume
					}
					if msg != nil {
						handle(msg.Payload)
					}
				}
			}
		}
		pubsub.Close()

		if ctx.Err() != nil || stream.Closed() {
			return
		}

		logger.Warn("signaling subscription dropped, retrying",
			zap.Strings("channels", channels),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > constants.SubscribeRetryMax {
			backoff = constants.SubscribeRetryMax
		}
	}
}

func (s *Store) resyncDirect(ctx context.Context, address string, stream *Stream[domain.DirectCall]) {
	calls, err := s.calls.ActiveForCallee(ctx, address)
	if err != nil {
		logger.Warn("failed to resync ringing calls",
			zap.String("address", address),
			zap.Error(err))
		return
	}
	for _, call := range calls {
		stream.Publish(*call)
	}
}

func (s *Store) resyncGroups(ctx context.Context, groupIDs []string, stream *Stream[domain.GroupCall]) {
	calls, err := s.groups.ActiveByGroups(ctx, groupIDs)
	if err != nil {
		logger.Warn("failed to resync active group calls", zap.Error(err))
		return
	}
	for _, call := range calls {
		stream.Publish(*call)
	}
}
