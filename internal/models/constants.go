package models

const (
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	ContextSlot = "context"
	InputSlot   = "input"
)

// DefaultSeparators are tried coarsest first: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

var (
	// ChatSystemPrompt is used by the interactive chat loop.
	ChatSystemPrompt = `You are an assistant that finds facts in the context you are given.
Summarise the most important parts.
If the answer is not in the text, reply "I cannot find any information about that in the content."

{context}`

	// ServerSystemPrompt is used by the HTTP chat endpoint.
	ServerSystemPrompt = `You are a helpful assistant.
IMPORTANT: Never write mathematical symbols with dollar signs or LaTeX. Use plain letters instead, for example write 'y' instead of '$y$'.
If the context does not contain the answer, say that you could not find any relevant information.
Answer based on: {context}`

	HumanPrompt = "{input}"
)
