// Command streamworker is the Lambda entry point that finishes deletes from
// the DynamoDB streams of the entity tables.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/internal/backend"
	"github.com/tradojo/booking/internal/config"
	"github.com/tradojo/booking/store/dynamostore"
	"github.com/tradojo/booking/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	client, err := backend.DynamoClient(context.Background(), cfg.Dynamo)
	if err != nil {
		logger.Error("dynamodb client", "error", err)
		os.Exit(1)
	}
	engine := booking.New(dynamostore.New(client, cfg.DynamoStore()), cfg.Engine(), logger)

	handler := stream.NewHandler(engine, engine.Registry(), logger)
	lambda.Start(handler.HandleStream)
}
