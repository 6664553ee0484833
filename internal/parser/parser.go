package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rag-assistant/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// pageBreak separates pages in plain text files.
const pageBreak = "\f"

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Load reads the file at path into a Document with one Page per page, slide
// or sheet. Page indexes start at 1.
func Load(path string) (models.Document, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Document{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return models.Document{}, err
	}

	var (
		texts []string
		err   error
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		texts, err = parsePDF(path)
	case ".docx":
		texts, err = parseDOCX(path)
	case ".pptx":
		texts, err = parsePPTX(path)
	case ".xlsx":
		texts, err = parseXLSX(path)
	case ".xlsm", ".xltx", ".xltm":
		texts, err = parseWorkbook(path)
	case ".md", ".markdown":
		texts, err = parseMarkdown(path)
	case ".txt":
		texts, err = parseText(path)
	default:
		return models.Document{}, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	doc := models.Document{
		ID:    filepath.Base(path),
		Path:  path,
		Pages: make([]models.Page, len(texts)),
	}
	for i, t := range texts {
		doc.Pages[i] = models.Page{Index: i + 1, Text: t}
	}
	log.Debug().Str("path", path).Int("pages", len(doc.Pages)).Msg("document loaded")
	return doc, nil
}

func parsePDF(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			// keep numbering aligned with the PDF
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

// DOCX has no page numbers, the whole body is one page.
func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := extractTextFromXML(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return []string{content}, nil
}

func parsePPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideText, err := extractTextFromXML(string(data))
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		pages = append(pages, slideText)
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

// parseWorkbook handles the macro and template workbook variants.
func parseWorkbook(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, sheetText(sheetName, rows))
	}
	return pages, nil
}

func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s\n", name)
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}

func parseMarkdown(filePath string) ([]string, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []string{markdownToText(src)}, nil
}

// markdownToText renders the text content of a markdown document, keeping
// block boundaries as blank lines so the chunker can split on them.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				ensureSuffix(&b, "\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.URL(src))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func ensureSuffix(b *strings.Builder, suffix string) {
	s := b.String()
	if s == "" || strings.HasSuffix(s, suffix) {
		return
	}
	trimmed := strings.TrimRight(s, "\n")
	b.Reset()
	b.WriteString(trimmed)
	b.WriteString(suffix)
}

func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), pageBreak), nil
}

// extractTextFromXML collects the character data of OOXML text runs
// (<w:t>, <a:t>), ending a line at each paragraph.
func extractTextFromXML(xmlContent string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(xmlContent)))
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
