package models

// Context is a retrieved note snippet used to ground an answer.
type Context struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// AskResponse is the grounded answer plus the contexts it was built from, most similar first.
type AskResponse struct {
	Answer   string     `json:"answer"`
	Contexts []*Context `json:"contexts"`
}

// NoMatchesAnswer is returned when no note is similar enough to answer from.
const NoMatchesAnswer = "I couldn't find anything in your notes related to that."
