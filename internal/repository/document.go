package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"neuralnexus/internal/domain"
)

const (
	fieldID        = "id"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
	fieldVersion   = "version"
)

// Document запись коллекции в виде JSON объекта
type Document map[string]any

// ID идентификатор записи или пустая строка
func (d Document) ID() string {
	id, _ := d[fieldID].(string)
	return id
}

// Decode раскладывает документ в структуру
func (d Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Clone поверхностная копия документа
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ToDocument приводит структуру или map к документу через JSON
func ToDocument(v any) (Document, error) {
	if doc, ok := v.(Document); ok {
		return doc.Clone(), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewValidationError("", "item must be a JSON object")
	}
	if doc == nil {
		return nil, domain.NewValidationError("", "item must be a JSON object")
	}
	return doc, nil
}

// toPatch нормализует значения patch. nil дает пустой patch.
func toPatch(patch map[string]any) (Document, error) {
	if patch == nil {
		return Document{}, nil
	}
	return ToDocument(patch)
}

func encodeDocument(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	return doc, nil
}

// isUnsetTimestamp отсутствующее, пустое или нулевое значение time.Time
func isUnsetTimestamp(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || strings.HasPrefix(t, "0001-01-01T00:00:00")
	default:
		return false
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// validateName коллекция и id попадают в ключ объекта как один сегмент пути
func validateName(field, name string) error {
	if name == "" {
		return domain.NewValidationError(field, "must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return domain.NewValidationError(field, "must not contain path separators")
	}
	return nil
}
