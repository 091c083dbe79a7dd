package extract

// Job is one accepted file handed to an extractor.
type Job struct {
	FileName string
	MIMEType string
	Size     int64
	Content  []byte
}

type Result struct {
	Success   bool              `json:"success"`
	Text      string            `json:"text"`
	Method    string            `json:"method"`
	FileType  string            `json:"fileType"`
	MIMEType  string            `json:"mimeType"`
	Pages     []PageResult      `json:"pages,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	WordCount int               `json:"wordCount"`
	CharCount int               `json:"charCount"`
	Error     *string           `json:"error,omitempty"`
}

type PageResult struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
	WordCount  int    `json:"wordCount"`
}

// Fail builds the failed Result for err.
func Fail(kind Kind, mimeType, method string, err error) Result {
	msg := err.Error()
	return Result{Success: false, Method: method, FileType: kind.String(), MIMEType: mimeType, Error: &msg}
}

func BuildCounts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	wordCount = 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}
