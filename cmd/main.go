package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"underground-bot/handler"
	"underground-bot/internal/integrations/conversation"
	"underground-bot/internal/integrations/paramstore"
	"underground-bot/internal/integrations/weather"
	"underground-bot/internal/repository"
	"underground-bot/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	conversationURL := os.Getenv("CONVERSATION_URL")
	weatherURL := os.Getenv("WEATHER_URL")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	userStore, err := repository.NewUserStore(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create user store", "err", err)
		os.Exit(1)
	}
	dialogStore, err := repository.NewDialogStore(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create dialog store", "err", err)
		os.Exit(1)
	}

	var conversationOpts []conversation.Option
	if conversationURL != "" {
		conversationOpts = append(conversationOpts, conversation.WithBaseURL(conversationURL))
	}
	nluClient, err := conversation.NewClient(ssmClient, paramPrefix, conversationOpts...)
	if err != nil {
		slog.Error("failed to create conversation client", "err", err)
		os.Exit(1)
	}

	var weatherOpts []weather.Option
	if weatherURL != "" {
		weatherOpts = append(weatherOpts, weather.WithBaseURL(weatherURL))
	}
	weatherClient, err := weather.NewClient(ssmClient, paramPrefix, weatherOpts...)
	if err != nil {
		slog.Error("failed to create weather client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	turnService, err := usecase.NewTurnService(userStore, dialogStore, nluClient, weatherClient, slog.Default())
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(turnService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
