package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixSession   = "SESSION#"
	skPrefixKey       = "KEY#"
	defaultTTL        = 30 * 24 * time.Hour
	maxTransactDelete = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDB stores session keys in a single table, one item per key:
// PK=SESSION#<id>, SK=KEY#<name>, attributes value and ttl.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoDB creates a DynamoDB-backed Provider. A ttl <= 0 uses 30 days.
func NewDynamoDB(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("kvstore: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("kvstore: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DynamoDB{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// ForSession returns the store of sessionID.
func (d *DynamoDB) ForSession(sessionID string) Store {
	return &dynamoSession{db: d, pk: sessionPK(sessionID)}
}

func sessionPK(sessionID string) string {
	return pkPrefixSession + sessionID
}

func keySK(key string) string {
	return skPrefixKey + key
}

type dynamoSession struct {
	db *DynamoDB
	pk string
}

func (s *dynamoSession) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.pk},
		"SK": &types.AttributeValueMemberS{Value: keySK(key)},
	}
}

// Get reads a key with a consistent read so a token written by a refresh is
// seen by the very next request.
func (s *dynamoSession) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.db.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.db.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("kvstore: Get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	if ttl, ok := out.Item["ttl"].(*types.AttributeValueMemberN); ok {
		// DynamoDB deletes expired items lazily.
		if expires, err := strconv.ParseInt(ttl.Value, 10, 64); err == nil && expires <= s.db.now().Unix() {
			return "", false, nil
		}
	}
	v, ok := out.Item["value"].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("kvstore: Get %q: attribute value is not a string", key)
	}
	return v.Value, true, nil
}

func (s *dynamoSession) Set(ctx context.Context, key, value string) error {
	item := s.itemKey(key)
	item["value"] = &types.AttributeValueMemberS{Value: value}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.db.now().Add(s.db.ttl).Unix(), 10)}

	_, err := s.db.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.db.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("kvstore: Set %q: %w", key, err)
	}
	return nil
}

// Delete removes several keys in one transaction so readers never observe a
// half-cleared session.
func (s *dynamoSession) Delete(ctx context.Context, keys ...string) error {
	// A transaction may not touch the same item twice.
	keys = dedupe(keys)
	switch {
	case len(keys) == 0:
		return nil
	case len(keys) == 1:
		_, err := s.db.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.db.tableName),
			Key:       s.itemKey(keys[0]),
		})
		if err != nil {
			return fmt.Errorf("kvstore: Delete %q: %w", keys[0], err)
		}
		return nil
	case len(keys) > maxTransactDelete:
		return fmt.Errorf("kvstore: Delete: at most %d keys per call", maxTransactDelete)
	}

	items := make([]types.TransactWriteItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.db.tableName),
				Key:       s.itemKey(k),
			},
		})
	}
	if _, err := s.db.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("kvstore: Delete: %w", err)
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
