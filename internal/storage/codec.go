package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"merchant-guard/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

func encodeDocument(doc domain.Document) ([]byte, error) {
	if doc == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decodeDocument(raw []byte) (domain.Document, error) {
	doc := domain.Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
