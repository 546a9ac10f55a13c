package extractor

// Action is what the oracle decided to do with the user's input.
type Action string

const (
	ActionUpdateCondition      Action = "update_condition"
	ActionRequestClarification Action = "request_clarification"
	ActionGeneralChat          Action = "general_chat"
)

func (a Action) Valid() bool {
	switch a {
	case ActionUpdateCondition, ActionRequestClarification, ActionGeneralChat:
		return true
	}
	return false
}

// ExtractedData is the structured health data pulled out of one report.
type ExtractedData struct {
	Severity   int      `json:"severity"`
	Locations  []string `json:"locations"`
	Details    string   `json:"details"`
	OccurredAt string   `json:"occurred_at"`
	ExtraNotes []string `json:"extra_notes"`
}

// Result is the oracle's structured response for a single request. It
// is transient: valid only within that request's processing.
type Result struct {
	Action        Action        `json:"action"`
	ConditionName string        `json:"condition_name"`
	Data          ExtractedData `json:"extracted_data"`
	ResponseText  string        `json:"response_text"`
}

// Turn is one prior conversation message, tagged by who said it.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}
