package models

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	PageIndex  int    `json:"page"`
	// Offset is the rune offset of the chunk start within its page.
	Offset int `json:"offset"`
	// Index is the position of the chunk within the document.
	Index int `json:"index"`
	// Overlap is the number of leading runes repeated from the previous chunk of the same page.
	Overlap int    `json:"overlap"`
	Content string `json:"content"`
}

// Entry is a chunk with its embedding, as written to a vector store.
type Entry struct {
	Chunk     Chunk
	Embedding []float32
}

// Result is a single similarity search hit.
type Result struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Answer is the outcome of one retrieval-augmented query.
type Answer struct {
	Query  string   `json:"query"`
	Text   string   `json:"answer"`
	Chunks []Result `json:"sources"`
}
