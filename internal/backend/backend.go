// Package backend opens the store.Backend selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/tradojo/booking/internal/config"
	"github.com/tradojo/booking/store"
	"github.com/tradojo/booking/store/dynamostore"
	"github.com/tradojo/booking/store/memstore"
	"github.com/tradojo/booking/store/pgstore"
	"github.com/tradojo/booking/store/sqlstore"
)

// Open returns the configured backend and a function releasing it.
func Open(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), noop, nil

	case config.BackendSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendMySQL:
		s, err := sqlstore.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.PoolOptions{})
		if err != nil {
			return nil, nil, err
		}
		s := pgstore.New(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case config.BackendDynamoDB:
		client, err := DynamoClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, nil, err
		}
		return dynamostore.New(client, cfg.DynamoStore()), noop, nil
	}
	return nil, nil, errors.New("backend: unknown backend " + cfg.Backend)
}

// DynamoClient builds a DynamoDB client from the default AWS credential
// chain. Endpoint, when set, points it at DynamoDB Local or LocalStack.
func DynamoClient(ctx context.Context, cfg config.Dynamo) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
