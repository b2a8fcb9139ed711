package syncer

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/confsync/confsync/internal/feed"
)

// maxBatch bounds how many buffered messages one apply pass reorders.
const maxBatch = 256

// collect gathers the messages already buffered behind first so one
// pass can order them before applying.
func (c *Client) collect(first feed.SyncMessage, ch <-chan feed.SyncMessage) []feed.SyncMessage {
	batch := []feed.SyncMessage{first}
	for len(batch) < maxBatch {
		select {
		case msg, ok := <-ch:
			if !ok {
				return batch
			}
			batch = append(batch, msg)
		default:
			return batch
		}
	}

	return batch
}

// applyBatch folds received messages into the node. Broader scopes land
// first and versions ascend within a scope, so a burst settles with the
// most specific state live. The node's own announcements are skipped
// and (key, version) pairs inside the seen window drop as duplicates.
func (c *Client) applyBatch(ctx context.Context, batch []feed.SyncMessage) {
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Scope != batch[j].Scope {
			return batch[i].Scope.Priority() < batch[j].Scope.Priority()
		}
		return batch[i].Version < batch[j].Version
	})

	for _, msg := range batch {
		if msg.OriginClientID == c.clientID {
			continue
		}
		if !c.seen.admit(msg.Key, msg.Version) {
			observeMessage(msgDuplicate)
			continue
		}

		if err := c.apply(ctx, msg); err != nil {
			c.seen.forget(msg.Key, msg.Version)
			observeMessage(msgFailed)
			log.Error().Err(err).Str("key", msg.Key).Int64("version", msg.Version).
				Msg("sync message apply failed")
			continue
		}
		observeMessage(msgApplied)
	}
}

// seenWindowSize bounds the remembered versions per key. Redelivery
// happens in bursts right after a reconnect, so a short memory
// suffices.
const seenWindowSize = 32

// seenWindow remembers recently applied (key, version) pairs. It is
// owned by the run goroutine and needs no lock.
type seenWindow struct {
	byKey map[string][]int64
}

func newSeenWindow() *seenWindow {
	return &seenWindow{byKey: make(map[string][]int64)}
}

// admit records the pair and reports whether it was new.
func (w *seenWindow) admit(key string, version int64) bool {
	versions := w.byKey[key]
	for _, v := range versions {
		if v == version {
			return false
		}
	}

	if len(versions) == seenWindowSize {
		copy(versions, versions[1:])
		versions = versions[:seenWindowSize-1]
	}
	w.byKey[key] = append(versions, version)

	return true
}

// forget drops a remembered pair so a redelivered copy gets another
// attempt after a failed apply.
func (w *seenWindow) forget(key string, version int64) {
	versions := w.byKey[key]
	for i, v := range versions {
		if v == version {
			w.byKey[key] = append(versions[:i], versions[i+1:]...)
			return
		}
	}
}
