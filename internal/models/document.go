package models

// Page is the plain text of one page (or sheet, slide) of a source document.
type Page struct {
	Index int
	Text  string
}

// Document is a loaded source document, split by page boundaries.
type Document struct {
	ID    string
	Path  string
	Pages []Page
}
