package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/markup"
)

// Uncompressed size cap for any single archive part.
const maxPartBytes = 64 << 20

// DocumentConverter renders a word-processor document as HTML.
type DocumentConverter interface {
	ToHTML(ctx context.Context, content []byte) (string, error)
	Name() string
}

type DOCXExtractor struct {
	converter DocumentConverter
}

func NewDOCX(converter DocumentConverter) *DOCXExtractor {
	if converter == nil {
		converter = NewNativeConverter()
	}
	return &DOCXExtractor{converter: converter}
}

func (e *DOCXExtractor) Name() string      { return "document/docx" }
func (e *DOCXExtractor) Kind() extract.Kind { return extract.KindDocument }

func (e *DOCXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{Success: false}, ctx.Err()
	default:
	}

	doc, err := e.converter.ToHTML(ctx, job.Content)
	if err != nil {
		return extract.Fail(e.Kind(), job.MIMEType, e.converter.Name(), err), err
	}

	text := markup.Normalize(doc)
	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    e.converter.Name(),
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		Metadata:  coreMetadata(job.Content),
		WordCount: words,
		CharCount: chars,
	}, nil
}

// NativeConverter walks word/document.xml and emits HTML without external tools.
type NativeConverter struct{}

func NewNativeConverter() *NativeConverter { return &NativeConverter{} }

func (c *NativeConverter) Name() string { return "native" }

func (c *NativeConverter) ToHTML(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("empty document")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open document archive: %w", err)
	}
	body, err := readZipFile(zr, "word/document.xml", maxPartBytes)
	if err != nil {
		return "", err
	}
	return docxToHTML(body)
}

// docxToHTML walks <w:body> producing one HTML block per paragraph, list item,
// or table row. Each block ends with a newline so adjacent headings stay apart.
func docxToHTML(b []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var sb strings.Builder
	sawBody := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse word/document.xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "body":
			sawBody = true
		case "p":
			if block := docxParagraph(dec); block != "" {
				sb.WriteString(block)
				sb.WriteByte('\n')
			}
		case "tbl":
			sb.WriteString(docxTable(dec))
		}
	}
	if !sawBody {
		return "", errors.New("word/document.xml has no body")
	}
	return sb.String(), nil
}

// docxParagraph reads one <w:p> element and returns it as an HTML block.
func docxParagraph(dec *xml.Decoder) string {
	var style, numID string
	var sb strings.Builder
	hasText := false
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				style = attrVal(t, "val")
			case "numId":
				numID = attrVal(t, "val")
			case "t":
				text := readCharData(dec, &depth)
				if strings.TrimSpace(text) != "" {
					hasText = true
				}
				sb.WriteString(html.EscapeString(text))
			case "tab":
				sb.WriteString("\t")
			case "br", "cr":
				sb.WriteString("<br/>")
			}
		case xml.EndElement:
			depth--
		}
	}

	if !hasText {
		return ""
	}
	inner := sb.String()

	if h := headingLevel(style); h > 0 {
		return fmt.Sprintf("<h%d>%s</h%d>", h, inner, h)
	}
	if numID != "" && numID != "0" {
		return "<li>" + inner + "</li>"
	}
	return "<p>" + inner + "</p>"
}

// headingLevel maps OOXML paragraph styles to HTML heading levels.
func headingLevel(style string) int {
	s := strings.ToLower(style)
	if s == "title" {
		return 1
	}
	if s == "subtitle" {
		return 2
	}
	if strings.HasPrefix(s, "heading") {
		n := strings.TrimPrefix(s, "heading")
		if len(n) == 1 && n[0] >= '1' && n[0] <= '6' {
			return int(n[0] - '0')
		}
	}
	return 0
}

// docxTable reads one <w:tbl> element; each row becomes a paragraph of
// tab-separated cells.
func docxTable(dec *xml.Decoder) string {
	var sb strings.Builder
	var cells []string
	var cell []string
	inCell := false
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tr":
				cells = cells[:0]
			case "tc":
				inCell = true
				cell = cell[:0]
			case "t":
				if inCell {
					cell = append(cell, readCharData(dec, &depth))
				}
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "tc":
				inCell = false
				cells = append(cells, html.EscapeString(strings.TrimSpace(strings.Join(cell, " "))))
			case "tr":
				row := strings.TrimSpace(strings.Join(cells, "\t"))
				if row != "" {
					sb.WriteString("<p>" + strings.Join(cells, "\t") + "</p>\n")
				}
			}
		}
	}
	return sb.String()
}

// readCharData reads character data inside a text element, tracking depth.
func readCharData(dec *xml.Decoder, depth *int) string {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			*depth++
		case xml.EndElement:
			*depth--
			return sb.String()
		}
	}
	return sb.String()
}

func attrVal(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// --- Shared helpers ---

func readZipFile(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, limit+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if int64(len(b)) > limit {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, limit)
		}
		return b, nil
	}
	return nil, fmt.Errorf("missing %s", name)
}

// coreMetadata extracts title, author and dates from docProps/core.xml.
// Missing or malformed properties yield nil.
func coreMetadata(content []byte) map[string]string {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil
	}
	b, err := readZipFile(zr, "docProps/core.xml", maxPartBytes)
	if err != nil {
		return nil
	}

	meta := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(b))
	var currentTag string

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			currentTag = t.Name.Local
		case xml.CharData:
			val := strings.TrimSpace(string(t))
			if val == "" {
				continue
			}
			switch currentTag {
			case "title":
				meta["title"] = val
			case "creator":
				meta["author"] = val
			case "created":
				meta["created"] = val
			case "modified":
				meta["modified"] = val
			case "subject":
				meta["subject"] = val
			}
		case xml.EndElement:
			currentTag = ""
		}
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}
