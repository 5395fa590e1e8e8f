// Package stream provides DynamoDB Streams handlers that finish deletes out
// of band.
//
// The DynamoDB backend deletes a document by setting its TTL. When the stream
// shows a TTL newly set, or an item removed outright, the handler deletes the
// document's children through every cascading relationship and drops the
// document from its parent's list. Both steps are idempotent, so replayed or
// duplicated records are harmless.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/tradojo/booking/store"
)

// Sweeper performs the out-of-band cleanup.
type Sweeper interface {
	SweepOrphans(ctx context.Context, kind store.Kind, parentID string) (int, error)
	UnlinkChild(ctx context.Context, childKind store.Kind, childID, parentID string) error
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	sweeper  Sweeper
	registry *store.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(sweeper Sweeper, registry *store.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = store.NewRegistry()
	}
	return &Handler{
		sweeper:  sweeper,
		registry: registry,
		logger:   logger,
	}
}

// removal is a document the stream reports as deleted.
type removal struct {
	kind    store.Kind
	id      string
	indexes map[string]string
}

// HandleStream processes a batch. Records that fail are returned as batch item
// failures so that only they are retried.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleStream(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"sequence", record.Change.SequenceNumber,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	r, ok, err := removed(record)
	if err != nil {
		return fmt.Errorf("record %s: %w", record.EventID, err)
	}
	if !ok {
		return nil
	}
	if r.kind == "" || r.id == "" {
		return fmt.Errorf("record %s: image without kind or id", record.EventID)
	}

	h.logger.Info("processing delete",
		"kind", r.kind,
		"id", r.id,
		"event", record.EventName,
	)

	var errs []error

	// 1. Children of cascading relationships. One sweep covers all of them.
	if len(h.registry.CascadesFrom(r.kind)) > 0 {
		swept, err := h.sweeper.SweepOrphans(ctx, r.kind, r.id)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s/%s: %w", r.kind, r.id, err))
		}
		h.logger.Info("children swept", "kind", r.kind, "id", r.id, "deleted", swept)
	}

	// 2. This document in its parents' lists. The parent id is the index
	//    value the relationship names.
	for _, rel := range h.registry.ParentsOf(r.kind) {
		parentID := r.indexes[rel.ParentIndex]
		if parentID == "" {
			continue
		}
		if err := h.sweeper.UnlinkChild(ctx, r.kind, r.id, parentID); err != nil {
			errs = append(errs, fmt.Errorf("unlink %s/%s from %s/%s: %w", r.kind, r.id, rel.ParentKind, parentID, err))
		}
	}

	return errors.Join(errs...)
}

// removed reports the document a record deletes: a MODIFY that newly sets
// the TTL, or a REMOVE of an item that never had one. A REMOVE of an item with
// a TTL is the expiry of a delete already handled at MODIFY. A ttl that is not
// an integer is an error, since the record cannot be classified.
func removed(record events.DynamoDBEventRecord) (removal, bool, error) {
	var image map[string]events.DynamoDBAttributeValue
	switch record.EventName {
	case "MODIFY":
		oldTTL, err := getNumberAttr(record.Change.OldImage, "ttl")
		if err != nil {
			return removal{}, false, err
		}
		newTTL, err := getNumberAttr(record.Change.NewImage, "ttl")
		if err != nil {
			return removal{}, false, err
		}
		if oldTTL != 0 || newTTL == 0 {
			return removal{}, false, nil
		}
		image = record.Change.NewImage
	case "REMOVE":
		ttl, err := getNumberAttr(record.Change.OldImage, "ttl")
		if err != nil {
			return removal{}, false, err
		}
		if ttl != 0 {
			return removal{}, false, nil
		}
		image = record.Change.OldImage
	default:
		return removal{}, false, nil
	}
	return removal{
		kind:    store.Kind(getStringAttr(image, "kind")),
		id:      getStringAttr(image, "id"),
		indexes: getStringMapAttr(image, "indexes"),
	}, true, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts an integer attribute from a DynamoDB stream image.
// A missing attribute is 0; one that is not an integer number is an error.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) (int64, error) {
	v, ok := image[key]
	if !ok || v.DataType() == events.DataTypeNull {
		return 0, nil
	}
	if v.DataType() != events.DataTypeNumber {
		return 0, fmt.Errorf("attribute %s is not a number", key)
	}
	n, err := strconv.ParseInt(v.Number(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, nil
}

// getStringMapAttr extracts the string members of a map attribute.
func getStringMapAttr(image map[string]events.DynamoDBAttributeValue, key string) map[string]string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeMap {
		return nil
	}
	result := make(map[string]string)
	for k, item := range v.Map() {
		if item.DataType() == events.DataTypeString {
			result[k] = item.String()
		}
	}
	return result
}
