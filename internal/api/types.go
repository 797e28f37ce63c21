package api

// AddQuestionRequest is the payload of POST /api/v1/questions
type AddQuestionRequest struct {
	Question string `json:"question"`
}

// QuestionsResponse lists the questions after a change
type QuestionsResponse struct {
	Added     bool     `json:"added"`
	Questions []string `json:"questions"`
}

// FlushResponse reports the outcome of a manual flush
type FlushResponse struct {
	Dispatched bool   `json:"dispatched"`
	Transcript string `json:"transcript,omitempty"`
	Reply      string `json:"reply,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
