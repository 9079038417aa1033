package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"underground-bot/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// TurnProcessor is the orchestration entry point consumed by the handler.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) usecase.ProcessOutput
}

type Handler struct {
	svc TurnProcessor
}

type messageRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type messageResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHandler(svc TurnProcessor) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: turn processor must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle adapts an API Gateway request to one conversation turn. The turn
// service never fails outward, so only malformed requests produce non-200
// responses.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := resolveCorrelationID(event.Headers)

	var req messageRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:   "INVALID_INPUT",
			Message: "request body must be JSON with sender and message",
		}), nil
	}
	if strings.TrimSpace(req.Sender) == "" || strings.TrimSpace(req.Message) == "" {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:   "INVALID_INPUT",
			Message: "sender and message are required",
		}), nil
	}

	out := h.svc.ProcessMessage(ctx, usecase.ProcessInput{
		Sender:  req.Sender,
		Message: req.Message,
	})

	resp := messageResponse{Reply: out.Reply}
	if out.Response != nil {
		resp.ConversationID = out.Response.Context.ConversationDocID()
	}
	return jsonResponse(http.StatusOK, correlationID, resp), nil
}

func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}
