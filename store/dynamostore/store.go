// Package dynamostore is a store.Backend on DynamoDB.
//
// Each kind has its own table keyed by "id". Index values are kept in a
// sharded index table and unique values in a hashed constraint table, both
// written in the same transaction as the document. Deletion sets a TTL on the
// document (soft delete) and removes its index and constraint rows, so the
// table's stream sees a MODIFY with a newly set TTL.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tradojo/booking/internal/shard"
	"github.com/tradojo/booking/store"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// record is the item layout of a document table.
type record struct {
	ID        string            `dynamodbav:"id"`
	Kind      string            `dynamodbav:"kind"`
	EntityRef string            `dynamodbav:"entity_ref"`
	Version   int64             `dynamodbav:"version"`
	Body      string            `dynamodbav:"body"`
	Indexes   map[string]string `dynamodbav:"indexes,omitempty"`
	Unique    map[string]string `dynamodbav:"unique,omitempty"`
	IndexPKs  []string          `dynamodbav:"_index_pks,omitempty"`
	UniquePKs []string          `dynamodbav:"_unique_pks,omitempty"`
	CreatedAt string            `dynamodbav:"created_at"`
	UpdatedAt string            `dynamodbav:"updated_at"`
	TTL       int64             `dynamodbav:"ttl,omitempty"`
}

// Store provides DynamoDB document operations.
type Store struct {
	client API
	config Config
	now    func() time.Time
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// EntityRef returns the type-qualified reference (e.g., "travel#uuid").
func EntityRef(kind store.Kind, id string) string {
	return string(kind) + "#" + id
}

func (s *Store) indexPK(kind store.Kind, id, name, value string) string {
	return shard.IndexPK(shard.IndexRef(string(kind), name, value), EntityRef(kind, id), s.config.NumShards)
}

func docKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func constraintKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
	}
}

func indexKey(pk, entityRef string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":         &types.AttributeValueMemberS{Value: pk},
		"entity_ref": &types.AttributeValueMemberS{Value: entityRef},
	}
}

// Get returns the document or store.ErrNotFound if it is missing or deleted.
func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Document, error) {
	rec, err := s.getRecord(ctx, kind, id)
	if err != nil {
		return store.Document{}, err
	}
	return toDocument(kind, rec)
}

func (s *Store) getRecord(ctx context.Context, kind store.Kind, id string) (record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName(kind)),
		Key:            docKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return record{}, err
	}
	if result.Item == nil || deletedBy(result.Item, s.now()) {
		return record{}, store.ErrNotFound
	}
	var rec record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return record{}, fmt.Errorf("unmarshal %s/%s: %w", kind, id, err)
	}
	return rec, nil
}

// Find returns live documents of kind matching filter, ordered by creation time.
func (s *Store) Find(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Document, error) {
	var recs []record
	var err error
	if filter.Index == "" {
		recs, err = s.scanAll(ctx, kind)
	} else {
		recs, err = s.findByIndex(ctx, kind, filter)
	}
	if err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := toDocument(kind, rec)
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *Store) scanAll(ctx context.Context, kind store.Kind) ([]record, error) {
	var recs []record
	attrs := ttlAttrs(s.now())
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.TableName(kind)),
		FilterExpression:          aws.String(liveFilter),
		ExpressionAttributeNames:  attrs.names,
		ExpressionAttributeValues: attrs.values,
		ConsistentRead:            aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		for _, item := range page.Items {
			var rec record
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// findByIndex queries every shard of the posting list in parallel, then
// loads the referenced documents.
func (s *Store) findByIndex(ctx context.Context, kind store.Kind, filter store.Filter) ([]record, error) {
	indexRef := shard.IndexRef(string(kind), filter.Index, filter.Value)
	pks := shard.IndexShards(indexRef, s.config.NumShards)

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()

			var shardIDs []string
			paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
				TableName:              aws.String(s.config.IndexTable),
				KeyConditionExpression: aws.String("pk = :pk"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pk": &types.AttributeValueMemberS{Value: pk},
				},
				ConsistentRead: aws.Bool(true),
			})
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(ctx)
				if err != nil {
					errs <- fmt.Errorf("query %s: %w", pk, err)
					return
				}
				for _, item := range page.Items {
					if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
						shardIDs = append(shardIDs, v.Value)
					}
				}
			}

			mu.Lock()
			ids = append(ids, shardIDs...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return s.batchGet(ctx, kind, ids)
}

// batchGet loads documents by id in chunks of 100, retrying unprocessed keys.
func (s *Store) batchGet(ctx context.Context, kind store.Kind, ids []string) ([]record, error) {
	table := s.config.TableName(kind)
	var recs []record

	for start := 0; start < len(ids); start += 100 {
		end := min(start+100, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, docKey(id))
		}

		request := map[string]types.KeysAndAttributes{
			table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}
		for len(request) > 0 {
			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get %s: %w", kind, err)
			}
			for _, item := range out.Responses[table] {
				if deletedBy(item, s.now()) {
					continue
				}
				var rec record
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
				}
				recs = append(recs, rec)
			}
			request = out.UnprocessedKeys
		}
	}
	return recs, nil
}

// Create writes the document, its unique constraints and its index entries
// in one transaction.
func (s *Store) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	now := s.now().UTC()
	doc = store.CloneDocument(doc)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	rec := s.toRecord(doc)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return store.Document{}, fmt.Errorf("marshal %s/%s: %w", doc.Kind, doc.ID, err)
	}

	attrs := ttlAttrs(now)
	items := []types.TransactWriteItem{}
	entityPutIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(s.config.TableName(doc.Kind)),
			Item:                      item,
			ConditionExpression:       aws.String(vacantCondition),
			ExpressionAttributeNames:  attrs.names,
			ExpressionAttributeValues: attrs.values,
		},
	})
	items = append(items, s.uniquePuts(doc, sortedKeys(doc.Unique))...)
	items = append(items, s.indexPuts(doc, sortedKeys(doc.Indexes))...)

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err := mapCreateTransactionError(err, entityPutIndex); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Update replaces the document with optimistic locking. Changed unique values
// and index entries are swapped in the same transaction.
func (s *Store) Update(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error) {
	current, err := s.getRecord(ctx, doc.Kind, doc.ID)
	if err != nil {
		return store.Document{}, err
	}
	if expectedVersion != store.AnyVersion && current.Version != expectedVersion {
		return store.Document{}, store.ErrConcurrentModification
	}

	now := s.now().UTC()
	doc = store.CloneDocument(doc)
	doc.Version = current.Version + 1
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, current.CreatedAt)
	doc.UpdatedAt = now

	rec := s.toRecord(doc)
	rec.CreatedAt = current.CreatedAt
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return store.Document{}, fmt.Errorf("marshal %s/%s: %w", doc.Kind, doc.ID, err)
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.config.TableName(doc.Kind)),
			Item:                item,
			ConditionExpression: aws.String("#version = :expected_version AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames: map[string]string{
				"#version": "version",
				"#ttl":     ttlAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		},
	}}

	// Unique constraints: release values that changed, claim the new ones.
	var claim []string
	for _, field := range sortedKeys(current.Unique) {
		if doc.Unique[field] != current.Unique[field] {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.config.UniqueTable),
					Key:       constraintKey(shard.UniqueConstraintPK(string(doc.Kind), field, current.Unique[field])),
				},
			})
		}
	}
	for _, field := range sortedKeys(doc.Unique) {
		if current.Unique[field] != doc.Unique[field] {
			claim = append(claim, field)
		}
	}
	items = append(items, s.uniquePuts(doc, claim)...)

	// Index entries: drop the ones that moved, add the new ones.
	var add []string
	ref := EntityRef(doc.Kind, doc.ID)
	for _, name := range sortedKeys(current.Indexes) {
		if doc.Indexes[name] != current.Indexes[name] {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.config.IndexTable),
					Key:       indexKey(s.indexPK(doc.Kind, doc.ID, name, current.Indexes[name]), ref),
				},
			})
		}
	}
	for _, name := range sortedKeys(doc.Indexes) {
		if current.Indexes[name] != doc.Indexes[name] {
			add = append(add, name)
		}
	}
	items = append(items, s.indexPuts(doc, add)...)

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err := mapUpdateTransactionError(err); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Delete marks the document deleted by setting its TTL and removes its index
// entries and unique constraints.
func (s *Store) Delete(ctx context.Context, kind store.Kind, id string) error {
	current, err := s.getRecord(ctx, kind, id)
	if err != nil {
		return err
	}
	attrs := ttlAttrs(s.now()).
		name("#version", "version").
		value(":one", &types.AttributeValueMemberN{Value: "1"})

	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(s.config.TableName(kind)),
			Key:                       docKey(id),
			UpdateExpression:          aws.String("SET #ttl = :now, #version = #version + :one"),
			ConditionExpression:       aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames:  attrs.names,
			ExpressionAttributeValues: attrs.values,
		},
	}}
	for _, pk := range current.UniquePKs {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.UniqueTable),
				Key:       constraintKey(pk),
			},
		})
	}
	ref := EntityRef(kind, id)
	for _, pk := range current.IndexPKs {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.IndexTable),
				Key:       indexKey(pk, ref),
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) && len(txErr.CancellationReasons) > 0 {
		if code := txErr.CancellationReasons[0].Code; code != nil && *code == "ConditionalCheckFailed" {
			return store.ErrNotFound
		}
	}
	return err
}

func (s *Store) uniquePuts(doc store.Document, fields []string) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(fields))
	for _, field := range fields {
		value := doc.Unique[field]
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.UniqueTable),
				Item: map[string]types.AttributeValue{
					"pk":          &types.AttributeValueMemberS{Value: shard.UniqueConstraintPK(string(doc.Kind), field, value)},
					"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
					"kind":        &types.AttributeValueMemberS{Value: string(doc.Kind)},
					"field_name":  &types.AttributeValueMemberS{Value: field},
					"field_value": &types.AttributeValueMemberS{Value: value},
					"entity_ref":  &types.AttributeValueMemberS{Value: EntityRef(doc.Kind, doc.ID)},
				},
				// Fails if another entity already has this unique value
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		})
	}
	return items
}

func (s *Store) indexPuts(doc store.Document, names []string) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(names))
	ref := EntityRef(doc.Kind, doc.ID)
	for _, name := range names {
		value := doc.Indexes[name]
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.IndexTable),
				Item: map[string]types.AttributeValue{
					"pk":         &types.AttributeValueMemberS{Value: s.indexPK(doc.Kind, doc.ID, name, value)},
					"entity_ref": &types.AttributeValueMemberS{Value: ref},
					"index_ref":  &types.AttributeValueMemberS{Value: shard.IndexRef(string(doc.Kind), name, value)},
					"id":         &types.AttributeValueMemberS{Value: doc.ID},
					"kind":       &types.AttributeValueMemberS{Value: string(doc.Kind)},
				},
			},
		})
	}
	return items
}

func (s *Store) toRecord(doc store.Document) record {
	rec := record{
		ID:        doc.ID,
		Kind:      string(doc.Kind),
		EntityRef: EntityRef(doc.Kind, doc.ID),
		Version:   doc.Version,
		Body:      string(doc.Body),
		Indexes:   doc.Indexes,
		Unique:    doc.Unique,
		CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, name := range sortedKeys(doc.Indexes) {
		rec.IndexPKs = append(rec.IndexPKs, s.indexPK(doc.Kind, doc.ID, name, doc.Indexes[name]))
	}
	for _, field := range sortedKeys(doc.Unique) {
		rec.UniquePKs = append(rec.UniquePKs, shard.UniqueConstraintPK(string(doc.Kind), field, doc.Unique[field]))
	}
	return rec
}

func toDocument(kind store.Kind, rec record) (store.Document, error) {
	created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return store.Document{}, fmt.Errorf("parse created_at of %s/%s: %w", kind, rec.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return store.Document{}, fmt.Errorf("parse updated_at of %s/%s: %w", kind, rec.ID, err)
	}
	doc := store.Document{
		Kind:      kind,
		ID:        rec.ID,
		Version:   rec.Version,
		Body:      []byte(rec.Body),
		Indexes:   rec.Indexes,
		Unique:    rec.Unique,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if len(doc.Indexes) == 0 {
		doc.Indexes = nil
	}
	if len(doc.Unique) == 0 {
		doc.Unique = nil
	}
	return doc, nil
}

// mapCreateTransactionError maps DynamoDB transaction errors for Create operations.
// entityPutIndex is the index of the document put item.
func mapCreateTransactionError(err error, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == entityPutIndex {
					return store.ErrAlreadyExists
				}
				// Must be a unique constraint
				return store.ErrDuplicateValue
			}
		}
	}

	return err
}

// mapUpdateTransactionError maps DynamoDB transaction errors for Update
// operations. The document put is always the first item.
func mapUpdateTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == 0 {
					return store.ErrConcurrentModification
				}
				return store.ErrDuplicateValue
			}
		}
	}

	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ store.Backend = (*Store)(nil)
