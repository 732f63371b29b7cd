// Package relay mirrors raw order payloads into a durable append-only object
// store used for audit and replay. Writes are fire-and-forget from the
// pipeline's perspective; replay walks the stored objects back through the
// intake queue.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/ingest"
)

const objectPrefix = "orders/"

// Relay implements domain.RelayStore over blob storage. Objects are keyed
// orders/<kind>/<hash>.json; a re-append of the same order overwrites with
// identical content, so the store stays effectively append-only.
type Relay struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// New creates a Relay.
func New(writer domain.BlobWriter, reader domain.BlobReader) *Relay {
	return &Relay{writer: writer, reader: reader}
}

func objectKey(kind, id string) string {
	return objectPrefix + kind + "/" + strings.ToLower(id) + ".json"
}

// Append stores one raw order payload.
func (r *Relay) Append(ctx context.Context, kind, id string, payload []byte) error {
	err := r.writer.Put(ctx, objectKey(kind, id), bytes.NewReader(payload), "application/json")
	if err != nil {
		return fmt.Errorf("relay: append %s/%s: %w", kind, id, err)
	}
	return nil
}

// Replay re-enqueues every stored payload of the given protocol kind as
// intake jobs, for re-driving the pipeline after a data fix. Unreadable
// objects are logged and skipped.
func (r *Relay) Replay(ctx context.Context, kind string, queue domain.JobQueue, logger *slog.Logger) (int, error) {
	infos, err := r.reader.List(ctx, objectPrefix+kind+"/")
	if err != nil {
		return 0, fmt.Errorf("relay: list %s: %w", kind, err)
	}

	replayed := 0
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		payload, err := r.read(ctx, info.Path)
		if err != nil {
			logger.Warn("relay object unreadable", "path", info.Path, "error", err)
			continue
		}

		job, err := ingest.NewValidateOrderJob(
			ingest.OrderInfo{Kind: kind, Raw: payload},
			ingest.SaveOptions{IngestMethod: domain.IngestMethodRest},
		)
		if err != nil {
			logger.Warn("relay object malformed", "path", info.Path, "error", err)
			continue
		}
		if err := queue.Enqueue(ctx, job, 0); err != nil {
			return replayed, fmt.Errorf("relay: enqueue %s: %w", info.Path, err)
		}
		replayed++
	}
	return replayed, nil
}

func (r *Relay) read(ctx context.Context, path string) ([]byte, error) {
	body, err := r.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Compile-time interface check.
var _ domain.RelayStore = (*Relay)(nil)
