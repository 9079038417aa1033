package domain

// Directive selects the reply-generation strategy for a turn.
type Directive int

const (
	// DirectiveNone means no action tag was present; the turn uses the
	// default reply built from the service's output lines.
	DirectiveNone Directive = iota
	// DirectiveFindWeather triggers the date-bounded weather lookup.
	DirectiveFindWeather
	// DirectiveUnknown is any non-empty tag the bot does not recognize.
	// It falls back to the default reply but is still logged under its
	// raw tag name.
	DirectiveUnknown
)

const actionFindWeather = "findWeather"

// ParseDirective maps a raw action tag to a Directive.
func ParseDirective(action string, present bool) Directive {
	if !present {
		return DirectiveNone
	}
	switch action {
	case actionFindWeather:
		return DirectiveFindWeather
	default:
		return DirectiveUnknown
	}
}

func (d Directive) String() string {
	switch d {
	case DirectiveFindWeather:
		return actionFindWeather
	case DirectiveUnknown:
		return "unknown"
	default:
		return "none"
	}
}
