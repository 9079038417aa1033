package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"underground-bot/internal/domain"
)

const (
	dateLayout          = "2006-01-02"
	forecastHorizonDays = 9

	fallbackReply  = "Sorry, something went wrong!"
	locationPrompt = "Would you like to enter another location?"
)

// UserStore persists users and their conversation context.
type UserStore interface {
	GetOrCreate(ctx context.Context, senderID string) (domain.User, error)
	UpdateContext(ctx context.Context, user domain.User, convCtx domain.ConversationContext) (domain.User, error)
}

// DialogStore persists conversation records and their dialog turns.
type DialogStore interface {
	CreateConversation(ctx context.Context, userID string) (domain.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, turn domain.DialogTurn) error
}

// NLUClient sends a message plus context to the conversation service.
type NLUClient interface {
	Message(ctx context.Context, text string, convCtx domain.ConversationContext) (*domain.NLUResponse, error)
}

// WeatherClient resolves a location and fetches its daily forecast.
type WeatherClient interface {
	SearchLocation(ctx context.Context, query string) (domain.Location, error)
	DailyForecast(ctx context.Context, latitude, longitude float64) ([]domain.DayForecast, error)
}

// TurnService orchestrates one conversation turn: context retrieval, the
// conversation service call, directive dispatch, audit logging, and the
// context write-back.
type TurnService struct {
	users   UserStore
	dialogs DialogStore
	nlu     NLUClient
	weather WeatherClient
	logger  *slog.Logger

	now func() time.Time
}

type ProcessInput struct {
	Sender  string
	Message string
}

type ProcessOutput struct {
	Reply string
	// Response is the raw conversation service response obtained this
	// turn, nil when the service was never reached.
	Response *domain.NLUResponse
}

func NewTurnService(users UserStore, dialogs DialogStore, nlu NLUClient, weather WeatherClient, logger *slog.Logger) (*TurnService, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if dialogs == nil {
		return nil, errors.New("usecase: dialog store must not be nil")
	}
	if nlu == nil {
		return nil, errors.New("usecase: nlu client must not be nil")
	}
	if weather == nil {
		return nil, errors.New("usecase: weather client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnService{
		users:   users,
		dialogs: dialogs,
		nlu:     nlu,
		weather: weather,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// ProcessMessage runs one turn for the given sender. It never returns an
// error: any internal failure is logged and mapped to a fixed fallback
// reply, alongside whatever raw response was obtained before the failure.
func (s *TurnService) ProcessMessage(ctx context.Context, in ProcessInput) ProcessOutput {
	reply, response, err := s.processTurn(ctx, in)
	if err != nil {
		var turnErr *Error
		if errors.As(err, &turnErr) {
			s.logger.ErrorContext(ctx, "turn failed",
				"sender", in.Sender, "code", string(turnErr.Code), "reason", turnErr.Reason, "err", err)
		} else {
			s.logger.ErrorContext(ctx, "turn failed", "sender", in.Sender, "err", err)
		}
		return ProcessOutput{Reply: fallbackReply, Response: response}
	}
	return ProcessOutput{Reply: reply, Response: response}
}

func (s *TurnService) processTurn(ctx context.Context, in ProcessInput) (string, *domain.NLUResponse, error) {
	user, err := s.users.GetOrCreate(ctx, in.Sender)
	if err != nil {
		return "", nil, newError(ErrorInternal, "user_get_or_create_error", err)
	}

	response, err := s.nlu.Message(ctx, in.Message, user.Context)
	if err != nil {
		return "", nil, newError(ErrorUpstream, "nlu_message_error", err)
	}

	// Work on a copy so the persisted context never aliases the raw
	// response; the cleared state is written back onto both at the end.
	convCtx := response.Context.Clone()

	conversationID, err := s.resolveConversationID(ctx, user, convCtx)
	if err != nil {
		return "", response, err
	}

	// The action is read, then nulled in the context, then dispatched on
	// the value read. Persisting the null and dispatching on the original
	// value are both required.
	action, actionPresent := convCtx.Action()
	convCtx.ClearAction()

	var reply string
	switch domain.ParseDirective(action, actionPresent) {
	case domain.DirectiveFindWeather:
		reply, err = s.findWeatherReply(ctx, convCtx)
		if err != nil {
			return "", response, err
		}
	default:
		reply = defaultReply(response)
	}

	if conversationID != "" && actionPresent {
		turn := domain.DialogTurn{
			Name:            action,
			Message:         in.Message,
			Reply:           reply,
			TimestampMillis: s.now().UnixMilli(),
		}
		if err := s.dialogs.AppendTurn(ctx, conversationID, turn); err != nil {
			return "", response, newError(ErrorInternal, "dialog_append_error", err)
		}
	}

	if _, err := s.users.UpdateContext(ctx, user, convCtx); err != nil {
		return "", response, newError(ErrorInternal, "context_update_error", err)
	}

	response.Context = convCtx
	return reply, response, nil
}

// resolveConversationID returns the conversation record ID for this turn,
// creating a new record when the service flagged a new conversation.
// "" means no conversation is active, so turn logging is skipped.
func (s *TurnService) resolveConversationID(ctx context.Context, user domain.User, convCtx domain.ConversationContext) (string, error) {
	if !convCtx.NewConversation() {
		return convCtx.ConversationDocID(), nil
	}
	convCtx.SetNewConversation(false)
	conv, err := s.dialogs.CreateConversation(ctx, user.ID)
	if err != nil {
		return "", newError(ErrorInternal, "conversation_create_error", err)
	}
	convCtx.SetConversationDocID(conv.ID)
	return conv.ID, nil
}

// defaultReply concatenates every dialog output line, each followed by a
// line break.
func defaultReply(response *domain.NLUResponse) string {
	var b strings.Builder
	for _, line := range response.Output.Text {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// findWeatherReply handles the findWeather directive. Lookup failures are
// converted locally into a couldn't-find reply so the turn still persists
// its context and audit record; only a malformed date escapes to the
// whole-turn boundary.
func (s *TurnService) findWeatherReply(ctx context.Context, convCtx domain.ConversationContext) (string, error) {
	target, err := time.Parse(dateLayout, convCtx.Date())
	if err != nil {
		return "", newError(ErrorInvalidContext, "weather_date_parse_error", err)
	}

	days := civilDays(s.now(), target)
	if days < 0 {
		return "I see you already went. Hope you had a great trip!\n\n" + locationPrompt, nil
	}
	if days > forecastHorizonDays {
		return "Unfortunately, I cannot provide weather forecasts more than 9 days ahead. Sorry for any inconvenience.\n\n" + locationPrompt, nil
	}

	location := convCtx.Location()

	resolved, err := s.weather.SearchLocation(ctx, location)
	if err != nil {
		s.logger.WarnContext(ctx, "weather location search failed", "location", location, "err", err)
		return forecastNotFoundReply(location), nil
	}
	forecasts, err := s.weather.DailyForecast(ctx, resolved.Latitude, resolved.Longitude)
	if err != nil {
		s.logger.WarnContext(ctx, "weather forecast fetch failed", "location", location, "err", err)
		return forecastNotFoundReply(location), nil
	}
	if days >= len(forecasts) {
		s.logger.WarnContext(ctx, "weather forecast too short", "location", location, "days", days, "len", len(forecasts))
		return forecastNotFoundReply(location), nil
	}

	dayLabel := forecasts[days].DaypartName
	if days <= 1 {
		// "today" and "tomorrow"; proper weekday names stay capitalized.
		dayLabel = strings.ToLower(dayLabel)
	}

	return fmt.Sprintf("Let me gather the weather forecast in %s for you.\n\n", resolved.Address) +
		fmt.Sprintf("The forecast for %s says :\n%s\n\n", dayLabel, forecasts[days].Narrative) +
		locationPrompt, nil
}

func forecastNotFoundReply(location string) string {
	return fmt.Sprintf("Sorry, I couldn't find the weather forecast for %s\n\n", location) + locationPrompt
}

// civilDays returns the whole-day difference between two calendar dates,
// ignoring time of day.
func civilDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
