package optionstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

// dynamoAPI is the part of the DynamoDB client the store uses.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore keeps options in a DynamoDB table with a string hash key
// "key" and a binary attribute "value".
type DynamoDBStore struct {
	client    dynamoAPI
	tableName string
	namespace string
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewDynamoDBStore creates a DynamoDB option store. The table must exist.
func NewDynamoDBStore(cfg Config) (*DynamoDBStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", cfg.TableName, err)
	}

	return newDynamoDBStore(client, cfg.TableName, cfg.Namespace, cfg.Logger), nil
}

func newDynamoDBStore(client dynamoAPI, tableName, namespace string, logger *slog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		namespace: namespace,
		logger:    loggerOrDefault(logger).With("component", "optionstore", "store", "dynamodb"),
	}
}

func (d *DynamoDBStore) itemKey(scope core.Scope, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: scopedKey(d.namespace, scope, key)},
	}
}

// Get retrieves an option with a strongly consistent read.
func (d *DynamoDBStore) Get(ctx context.Context, scope core.Scope, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("option store is closed")
	}

	k := scopedKey(d.namespace, scope, key)
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(scope, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", k, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrOptionNotFound, k)
	}

	valueAttr, ok := result.Item["value"]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrOptionNotFound, k)
	}
	valueMember, ok := valueAttr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", k)
	}

	d.logger.DebugContext(ctx, "option read", "key", k, "size", len(valueMember.Value))
	return valueMember.Value, nil
}

// Set stores an option.
func (d *DynamoDBStore) Set(ctx context.Context, scope core.Scope, key string, value []byte) error {
	if d.closed.Load() {
		return fmt.Errorf("option store is closed")
	}

	item := d.itemKey(scope, key)
	item["value"] = &types.AttributeValueMemberB{Value: value}
	item["updated_at"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to set key %s: %w", scopedKey(d.namespace, scope, key), err)
	}
	d.logger.DebugContext(ctx, "option written", "key", scopedKey(d.namespace, scope, key), "size", len(value))
	return nil
}

// Delete removes an option.
func (d *DynamoDBStore) Delete(ctx context.Context, scope core.Scope, key string) error {
	if d.closed.Load() {
		return fmt.Errorf("option store is closed")
	}

	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.itemKey(scope, key),
	}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", scopedKey(d.namespace, scope, key), err)
	}
	return nil
}

// Close marks the store closed. The SDK client holds no connections that
// need releasing.
func (d *DynamoDBStore) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBFactory creates DynamoDB option stores.
type DynamoDBFactory struct{}

// Type returns "dynamodb".
func (f *DynamoDBFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB settings of config.
func (f *DynamoDBFactory) Validate(config Config) error {
	if config.Region == "" {
		return fmt.Errorf("region is required")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required")
	}
	if (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Create creates a DynamoDB option store.
func (f *DynamoDBFactory) Create(config Config) (core.OptionStore, error) {
	return NewDynamoDBStore(config)
}

// DynamoDBConfigValidator validates the option store section when its type
// is dynamodb.
type DynamoDBConfigValidator struct{}

// Type returns "dynamodb".
func (v *DynamoDBConfigValidator) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB option store settings.
func (v *DynamoDBConfigValidator) Validate(config *registry.InternalConfig) error {
	d := config.OptionStore.DynamoDB
	if d.Region == "" {
		return fmt.Errorf("dynamodb.region is required")
	}
	if d.TableName == "" {
		return fmt.Errorf("dynamodb.table_name is required")
	}
	if (d.AccessKeyID == "") != (d.SecretAccessKey == "") {
		return fmt.Errorf("dynamodb.access_key_id and dynamodb.secret_access_key must be set together")
	}
	return nil
}

func init() {
	RegisterFactory(&DynamoDBFactory{})
	registry.RegisterValidator(&DynamoDBConfigValidator{})
}
