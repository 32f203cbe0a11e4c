package wiki

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Yates-Labs/f1rag/internal/rag"
)

const (
	summaryMarker  = "=== Summary ==="
	fullTextMarker = "=== Full Text ==="
	articleExt     = ".txt"
)

// ErrMalformedArticle is returned by ParseArticle for files not in the article format.
var ErrMalformedArticle = errors.New("malformed article file")

var (
	unsafeRX    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separatorRX = regexp.MustCompile(`[-\s]+`)
)

// SafeFilename turns an article title into a file name stem.
func SafeFilename(title string) string {
	name := unsafeRX.ReplaceAllString(title, "")
	name = separatorRX.ReplaceAllString(name, "_")
	name = strings.Trim(name, "-_")
	if name == "" {
		return "article"
	}
	return name
}

// FormatArticle renders doc in the on-disk article format.
func FormatArticle(doc rag.RawDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	fmt.Fprintf(&b, "URL: %s\n", doc.SourceURL)
	fmt.Fprintf(&b, "ID: %s\n\n", doc.ID)
	b.WriteString(summaryMarker + "\n")
	b.WriteString(doc.Summary + "\n\n")
	b.WriteString(fullTextMarker + "\n")
	b.WriteString(doc.Text)
	return b.String()
}

// ParseArticle reads the article format. Files without an ID line get one derived
// from fallbackID.
func ParseArticle(content, fallbackID string) (rag.RawDocument, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	header, body, ok := strings.Cut(content, "\n\n")
	if !ok {
		return rag.RawDocument{}, fmt.Errorf("%w: no header", ErrMalformedArticle)
	}

	doc := rag.RawDocument{ID: fallbackID}
	for _, line := range strings.Split(header, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Title":
			doc.Title = value
		case "URL":
			doc.SourceURL = value
		case "ID":
			if value != "" {
				doc.ID = value
			}
		}
	}
	if doc.Title == "" {
		return rag.RawDocument{}, fmt.Errorf("%w: missing title", ErrMalformedArticle)
	}

	_, rest, ok := strings.Cut(body, summaryMarker+"\n")
	if !ok {
		return rag.RawDocument{}, fmt.Errorf("%w: missing summary section", ErrMalformedArticle)
	}
	summary, text, ok := strings.Cut(rest, fullTextMarker+"\n")
	if !ok {
		return rag.RawDocument{}, fmt.Errorf("%w: missing full text section", ErrMalformedArticle)
	}
	doc.Summary = strings.TrimSpace(summary)
	doc.Text = text
	return doc, nil
}

// SaveArticle writes doc to dir and returns the file path.
func SaveArticle(dir string, doc rag.RawDocument) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create articles dir: %w", err)
	}
	path := filepath.Join(dir, SafeFilename(doc.Title)+articleExt)
	if err := os.WriteFile(path, []byte(FormatArticle(doc)), 0o644); err != nil {
		return "", fmt.Errorf("save article %q: %w", doc.Title, err)
	}
	return path, nil
}

// ArticleFileError records an article file that could not be read or parsed.
type ArticleFileError struct {
	Path string
	Err  error
}

func (e *ArticleFileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ArticleFileError) Unwrap() error { return e.Err }

// LoadArticles reads every *.txt article under dir, subdirectories included, in
// path order. Files that cannot be read or parsed are skipped and returned as
// *ArticleFileError values. A missing dir holds no articles. The error is only
// set when dir cannot be walked.
func LoadArticles(dir string) ([]rag.RawDocument, []error, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), articleExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("articles dir: %w", err)
	}
	sort.Strings(paths)

	var (
		docs    = make([]rag.RawDocument, 0, len(paths))
		skipped []error
	)
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, &ArticleFileError{Path: path, Err: err})
			continue
		}
		doc, err := ParseArticle(string(content), "file:"+fileStem(dir, path))
		if err != nil {
			skipped = append(skipped, &ArticleFileError{Path: path, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

// fileStem is path relative to dir without its extension, using forward slashes.
func fileStem(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
}
