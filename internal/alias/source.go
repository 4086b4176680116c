package alias

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrSourceNotFound is returned by Source.Read when no configuration document exists
var ErrSourceNotFound = errors.New("alias configuration source not found")

// Source reads and replaces the persisted alias document as a whole
type Source interface {
	// Name identifies the source in logs and errors
	Name() string
	// Read returns the decoded document, or ErrSourceNotFound
	Read(ctx context.Context) (map[string]interface{}, error)
	// Write replaces the stored document; readers never see a partial write
	Write(ctx context.Context, doc map[string]interface{}) error
}

// ErrHistoryUnsupported is returned by Store.History when the source keeps no earlier documents
var ErrHistoryUnsupported = errors.New("alias source keeps no document history")

// HistorySource is a Source that archives each document it replaces
type HistorySource interface {
	Source
	// History returns up to limit archived documents, newest first
	History(ctx context.Context, limit int) ([]Revision, error)
}

// Revision is an archived alias document
type Revision struct {
	ID         int64                  `json:"id"`
	ArchivedAt time.Time              `json:"archived_at"`
	Document   map[string]interface{} `json:"document"`
}

// Format is a document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension; anything other than .yaml/.yml is JSON
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Unmarshal decodes a document in the given format
func Unmarshal(data []byte, format Format) (map[string]interface{}, error) {
	var doc map[string]interface{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode %s: empty document", format)
	}
	return doc, nil
}

// Marshal encodes a document; JSON is indented by two spaces and keeps non-ASCII text as is
func Marshal(doc map[string]interface{}, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(doc)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileSource keeps the alias document in a local JSON or YAML file
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a file source; the format follows the file extension
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, format: FormatForPath(path)}
}

// Name implements Source
func (f *FileSource) Name() string {
	return "file:" + f.path
}

// Path returns the backing file path
func (f *FileSource) Path() string {
	return f.path
}

// Read implements Source
func (f *FileSource) Read(ctx context.Context) (map[string]interface{}, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return Unmarshal(data, f.format)
}

// Write implements Source by writing a sibling temp file and renaming it over the target
func (f *FileSource) Write(ctx context.Context, doc map[string]interface{}) error {
	data, err := Marshal(doc, f.format)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.format, err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
