// Package dynamo is a TaskStore backed by a DynamoDB table keyed on contact_id.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"leadcall/internal/config"
	"leadcall/internal/domain"
	"leadcall/internal/infra/fields"
	"leadcall/internal/ports"
	"leadcall/pkg/backoff"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type Store struct {
	db        API
	tableName string
	retry     backoff.Policy
}

var _ ports.TaskStore = (*Store)(nil)

func NewStore(ctx context.Context, cfg config.Dynamo, retry backoff.Policy) (*Store, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("DYNAMO_TABLE is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	log.Info().Str("table", cfg.Table).Str("region", cfg.Region).Msg("using dynamodb task store")
	return NewWithAPI(client, cfg.Table, retry), nil
}

func NewWithAPI(db API, table string, retry backoff.Policy) *Store {
	return &Store{db: db, tableName: table, retry: retry}
}

func (s *Store) Get(ctx context.Context, contactID string) (*domain.CallTask, error) {
	var out *dynamodb.GetItemOutput
	err := backoff.Retry(ctx, s.retry, retryable, func(ctx context.Context) error {
		var err error
		out, err = s.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			ConsistentRead: aws.Bool(true),
			Key: map[string]types.AttributeValue{
				fields.ContactID: &types.AttributeValueMemberS{Value: contactID},
			},
		})
		return err
	})
	if err != nil {
		return nil, domain.Failure(domain.KindStorePersistence, "dynamo.get", err)
	}
	if out.Item == nil {
		return nil, domain.ErrTaskNotFound
	}

	m := make(map[string]string, len(out.Item))
	for k, v := range out.Item {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			m[k] = sv.Value
		}
	}
	t, err := fields.Unmarshal(m)
	if err != nil {
		return nil, domain.Failure(domain.KindStorePersistence, "dynamo.get", err)
	}
	return t, nil
}

// Put writes t conditioned on the stored version.
func (s *Store) Put(ctx context.Context, t *domain.CallTask) error {
	next := t.Clone()
	next.Version = t.Version + 1

	item := make(map[string]types.AttributeValue, 16)
	for k, v := range fields.Marshal(next) {
		item[k] = &types.AttributeValueMemberS{Value: v}
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if t.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(#id)")
		in.ExpressionAttributeNames = map[string]string{"#id": fields.ContactID}
	} else {
		in.ConditionExpression = aws.String("#v = :v")
		in.ExpressionAttributeNames = map[string]string{"#v": fields.Version}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: fmt.Sprintf("%d", t.Version)},
		}
	}

	err := backoff.Retry(ctx, s.retry, retryable, func(ctx context.Context) error {
		_, err := s.db.PutItem(ctx, in)
		return err
	})
	if err == nil {
		t.Version = next.Version
		return nil
	}
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return domain.ErrConflict
	}
	return domain.Failure(domain.KindStorePersistence, "dynamo.put", err)
}

func retryable(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &cfe),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
