package domain

// NLUOutput carries the reply lines configured in the conversation
// service's dialog.
type NLUOutput struct {
	Text []string `json:"text"`
}

// NLUResponse is the provider-agnostic shape of a conversation service
// response: the output lines plus the updated context. The context is the
// sole channel for session bookkeeping and directive signaling.
type NLUResponse struct {
	Output  NLUOutput           `json:"output"`
	Context ConversationContext `json:"context"`
}

// Location is a resolved weather-service location candidate.
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// DayForecast is one daily entry of a multi-day forecast.
type DayForecast struct {
	DaypartName string
	Narrative   string
}
