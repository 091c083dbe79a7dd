package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxFileBytes is the intake size limit. Files of exactly this size are accepted.
const MaxFileBytes int64 = 5 * 1024 * 1024

// Kind is the closed set of file kinds the pipeline can normalize.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
	KindSpreadsheet
	KindDocument
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindText:        "text",
	KindPDF:         "document/pdf",
	KindSpreadsheet: "document/xlsx",
	KindDocument:    "document/docx",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", b)
}

var kindByExtension = map[string]Kind{
	".txt":  KindText,
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".docx": KindDocument,
}

// KindOf maps a file name to its kind by case-insensitive suffix.
func KindOf(fileName string) Kind {
	return kindByExtension[strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))]
}

// Outcome is the intake verdict for one file. Err is nil when the file is accepted.
type Outcome struct {
	Kind Kind
	Err  *ValidationError
}

func (o Outcome) Accepted() bool { return o.Err == nil }

// Classify validates a file by name and size before any of its bytes are read.
// An unsupported extension wins over an oversized file.
func Classify(fileName string, size int64) Outcome {
	kind := KindOf(fileName)
	if kind == KindUnknown {
		return Outcome{Err: &ValidationError{FileName: fileName, Reason: ReasonUnsupportedExtension}}
	}
	if size > MaxFileBytes {
		return Outcome{Kind: kind, Err: &ValidationError{FileName: fileName, Reason: ReasonSizeExceeded}}
	}
	return Outcome{Kind: kind}
}
