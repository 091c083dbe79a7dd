package office

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Title</w:t></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Sub</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Fish &amp; </w:t></w:r><w:r><w:t>chips</w:t><w:br/><w:t>second line</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>&lt;p&gt; literal</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>a</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>b</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body></w:document>`

const coreXML = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>Quarterly</dc:title><dc:creator>Ops</dc:creator></cp:coreProperties>`

func TestDOCXExtractsNormalizedText(t *testing.T) {
	content := zipWith(t, map[string]string{
		"word/document.xml": documentXML,
		"docProps/core.xml": coreXML,
	})

	res, err := NewDOCX(nil).Extract(context.Background(), extract.Job{FileName: "a.docx", Content: content})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Title\nSub\nFish & chips\nsecond line\n<p> literal\na\tb"
	if res.Text != want {
		t.Fatalf("unexpected text:\n got %q\nwant %q", res.Text, want)
	}
	if res.Metadata["title"] != "Quarterly" || res.Metadata["author"] != "Ops" {
		t.Fatalf("unexpected metadata %v", res.Metadata)
	}
	if res.Method != "native" {
		t.Fatalf("unexpected method %q", res.Method)
	}
}

func TestDOCXHTMLStage(t *testing.T) {
	got, err := docxToHTML([]byte(documentXML))
	if err != nil {
		t.Fatalf("docxToHTML: %v", err)
	}
	for _, want := range []string{"<h1>Title</h1>", "<h2>Sub</h2>", "<p>Fish &amp; chips<br/>second line</p>", "<p>a\tb</p>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestDOCXRejectsNonArchive(t *testing.T) {
	_, err := NewDOCX(nil).Extract(context.Background(), extract.Job{Content: []byte("plain bytes")})
	if err == nil || !strings.Contains(err.Error(), "open document archive") {
		t.Fatalf("expected archive error, got %v", err)
	}
}

func TestDOCXRejectsMissingDocumentPart(t *testing.T) {
	content := zipWith(t, map[string]string{"docProps/core.xml": coreXML})
	_, err := NewDOCX(nil).Extract(context.Background(), extract.Job{Content: content})
	if err == nil || !strings.Contains(err.Error(), "missing word/document.xml") {
		t.Fatalf("expected missing part error, got %v", err)
	}
}

func TestDOCXRejectsMalformedXML(t *testing.T) {
	content := zipWith(t, map[string]string{"word/document.xml": "<w:document><w:body><w:p>"})
	if _, err := NewDOCX(nil).Extract(context.Background(), extract.Job{Content: content}); err == nil {
		t.Fatalf("expected parse error for truncated XML")
	}
}

type failingConverter struct{}

func (failingConverter) ToHTML(ctx context.Context, content []byte) (string, error) {
	return "", errors.New("unsupported document version")
}
func (failingConverter) Name() string { return "failing" }

func TestDOCXConverterFailure(t *testing.T) {
	res, err := NewDOCX(failingConverter{}).Extract(context.Background(), extract.Job{})
	if err == nil || res.Success || res.Method != "failing" {
		t.Fatalf("expected converter failure, got %v / %+v", err, res)
	}
}

func TestHeadingLevel(t *testing.T) {
	cases := map[string]int{"Title": 1, "Subtitle": 2, "heading3": 3, "Heading7": 0, "Normal": 0}
	for style, want := range cases {
		if got := headingLevel(style); got != want {
			t.Fatalf("headingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}
