// Package dynamo keeps chunk records in a DynamoDB table.
//
// Each chunk is one item: partition key "id" holds the chunk id, sort key
// "timestamp" holds the secondary index, and the binary attributes "sizes"
// and "data" hold the packed buffers.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	dynts "github.com/linrium/dyn-ts"
)

const (
	DefaultTable  = "timeseries"
	DefaultRegion = "ap-southeast-1"

	attrID        = "id"
	attrTimestamp = "timestamp"
	attrSizes     = "sizes"
	attrData      = "data"

	manifestPrefix = "manifest#"
	manifestSort   = "manifest"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

type Config struct {
	Table string

	// Region defaults to the AWS environment, then to DefaultRegion.
	Region string

	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. Leave them
	// empty to use the default credential chain.
	AccessKeyID     string
	SecretAccessKey string

	ConsistentRead bool
}

func (c *Config) setDefaults() {
	if c.Table == "" {
		c.Table = DefaultTable
	}
}

type Store struct {
	api API
	cfg Config
}

var _ dynts.ManifestStore = (*Store)(nil)

// New builds a DynamoDB client from the default AWS configuration plus cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.setDefaults()

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: loading AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}
	cfg.Region = awsCfg.Region

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return NewWithAPI(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, cfg Config) *Store {
	cfg.setDefaults()
	return &Store{api: api, cfg: cfg}
}

func (s *Store) Table() string  { return s.cfg.Table }
func (s *Store) Region() string { return s.cfg.Region }

func (s *Store) key(primaryKey, secondaryKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: primaryKey},
		attrTimestamp: &types.AttributeValueMemberS{Value: secondaryKey},
	}
}

func (s *Store) getItem(ctx context.Context, primaryKey, secondaryKey string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            s.key(primaryKey, secondaryKey),
		ConsistentRead: aws.Bool(s.cfg.ConsistentRead),
	})
	if err != nil {
		return nil, wrapErr(err, "get %s/%s", primaryKey, secondaryKey)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, dynts.ErrNotFound)
	}
	return out.Item, nil
}

func (s *Store) Get(ctx context.Context, primaryKey, secondaryKey string) (dynts.Record, error) {
	item, err := s.getItem(ctx, primaryKey, secondaryKey)
	if err != nil {
		return dynts.Record{}, err
	}
	var rec dynts.Record
	if rec.Sizes, err = binaryAttr(item, attrSizes); err != nil {
		return dynts.Record{}, fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, err)
	}
	if rec.Data, err = binaryAttr(item, attrData); err != nil {
		return dynts.Record{}, fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, primaryKey, secondaryKey string, rec dynts.Record) error {
	item := s.key(primaryKey, secondaryKey)
	item[attrSizes] = &types.AttributeValueMemberB{Value: nonNil(rec.Sizes)}
	item[attrData] = &types.AttributeValueMemberB{Value: nonNil(rec.Data)}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.Table),
		Item:      item,
	})
	if err != nil {
		return wrapErr(err, "put %s/%s", primaryKey, secondaryKey)
	}
	return nil
}

// Manifests share the chunk table under a reserved partition key.

func (s *Store) GetManifest(ctx context.Context, hypertable string) ([]byte, error) {
	item, err := s.getItem(ctx, manifestPrefix+hypertable, manifestSort)
	if err != nil {
		return nil, err
	}
	data, err := binaryAttr(item, attrData)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", hypertable, err)
	}
	return data, nil
}

func (s *Store) PutManifest(ctx context.Context, hypertable string, data []byte) error {
	item := s.key(manifestPrefix+hypertable, manifestSort)
	item[attrData] = &types.AttributeValueMemberB{Value: nonNil(data)}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.Table),
		Item:      item,
	})
	if err != nil {
		return wrapErr(err, "put manifest %s", hypertable)
	}
	return nil
}

func binaryAttr(item map[string]types.AttributeValue, name string) ([]byte, error) {
	switch v := item[name].(type) {
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case nil:
		return nil, fmt.Errorf("%w: missing attribute %q", dynts.ErrMalformed, name)
	default:
		return nil, fmt.Errorf("%w: attribute %q is %T, wanted binary", dynts.ErrMalformed, name, v)
	}
}

// nonNil avoids sending a null B attribute for empty buffers.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("dynamo: %s: table missing: %w", msg, err)
	}
	return fmt.Errorf("dynamo: %s: %w", msg, err)
}
