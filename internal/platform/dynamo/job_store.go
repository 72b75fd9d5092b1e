package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/platform/logger"
	"github.com/phrazzld/sendnforget/internal/store"
)

// API is the subset of the DynamoDB client used by JobStore.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// jobItem is the table representation of a domain.JobRecord.
type jobItem struct {
	ID         string `dynamodbav:"id"`
	Status     string `dynamodbav:"status"`
	Recipient  string `dynamodbav:"recipient"`
	RetryCount int    `dynamodbav:"retry_count"`
	CreatedAt  string `dynamodbav:"created_at"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func (it jobItem) toDomain() (*domain.JobRecord, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at %q", store.ErrInvalidEntity, it.CreatedAt)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at %q", store.ErrInvalidEntity, it.UpdatedAt)
	}
	return &domain.JobRecord{
		ID:         it.ID,
		Status:     domain.JobStatus(it.Status),
		Recipient:  it.Recipient,
		RetryCount: it.RetryCount,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// JobStore implements store.JobStore on DynamoDB.
type JobStore struct {
	client API
	table  string
}

// NewJobStore creates a JobStore for table.
func NewJobStore(client API, table string) *JobStore {
	return &JobStore{client: client, table: table}
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint overrides the service endpoint, e.g. for DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %v", store.ErrUnavailable, err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// Upsert implements store.JobStore. The write is conditional on the stored
// retry count not exceeding the incoming one; created_at is only set once.
func (s *JobStore) Upsert(ctx context.Context, record *domain.JobRecord) error {
	if err := store.ValidateForUpsert(record); err != nil {
		return err
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       idKey(record.ID),
		UpdateExpression: aws.String(
			"SET #st = :st, recipient = :rcp, retry_count = :rc, updated_at = :ua, created_at = if_not_exists(created_at, :ca)"),
		ConditionExpression: aws.String("attribute_not_exists(id) OR retry_count <= :rc"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: string(record.Status)},
			":rcp": &types.AttributeValueMemberS{Value: record.Recipient},
			":rc":  &types.AttributeValueMemberN{Value: strconv.Itoa(record.RetryCount)},
			":ua":  &types.AttributeValueMemberS{Value: record.UpdatedAt.UTC().Format(time.RFC3339Nano)},
			":ca":  &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return store.ErrStaleAttempt
		}
		logger.FromContext(ctx).Error("failed to upsert job record",
			"tracking_id", record.ID,
			"error", err)
		return store.NewStoreError("job_record", "upsert", "UpdateItem failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, store.NewStoreError("job_record", "get", "GetItem failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	if len(out.Item) == 0 {
		return nil, store.ErrJobNotFound
	}

	var it jobItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, store.NewStoreError("job_record", "get", "decode failed", fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
	}
	return it.toDomain()
}

// List implements store.JobStore. The whole table is scanned and records
// are returned newest first.
func (s *JobStore) List(ctx context.Context) ([]domain.JobRecord, error) {
	records := make([]domain.JobRecord, 0)

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, store.NewStoreError("job_record", "list", "Scan failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
		}

		var items []jobItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, store.NewStoreError("job_record", "list", "decode failed", fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
		}
		for _, it := range items {
			record, err := it.toDomain()
			if err != nil {
				return nil, store.NewStoreError("job_record", "list", "decode failed", err)
			}
			records = append(records, *record)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

var _ store.JobStore = (*JobStore)(nil)
