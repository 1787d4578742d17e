package payloadschema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var schemaFiles embed.FS

// Kind names one LLM response contract.
type Kind string

const (
	KindTopicLabel     Kind = "topic_label"
	KindMegatopicLabel Kind = "megatopic_label"
	KindTranslation    Kind = "translation"
)

// TopicLabel is the labeling result for one national cluster. Indices refer
// to the member order sent in the prompt.
type TopicLabel struct {
	TopicName string       `json:"topic_name"`
	Keywords  []string     `json:"keywords,omitempty"`
	Category  string       `json:"category,omitempty"`
	Stances   StanceGroups `json:"stances"`
	Outliers  []int        `json:"outliers,omitempty"`
}

type StanceGroups struct {
	Factual    []int `json:"factual,omitempty"`
	Critical   []int `json:"critical,omitempty"`
	Supportive []int `json:"supportive,omitempty"`
}

// MegatopicLabel is the naming and outlier result for one global cluster.
type MegatopicLabel struct {
	MegatopicName string   `json:"megatopic_name"`
	Keywords      []string `json:"keywords,omitempty"`
	Category      string   `json:"category,omitempty"`
	Outliers      []int    `json:"outliers,omitempty"`
}

type Translation struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

type compiledSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var compiled = map[Kind]*compiledSchema{
	KindTopicLabel:     {},
	KindMegatopicLabel: {},
	KindTranslation:    {},
}

// ParseKind maps a CLI argument to a known Kind.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "-", "_"))))
	if _, ok := compiled[kind]; !ok {
		return "", fmt.Errorf("unknown schema kind %q", raw)
	}
	return kind, nil
}

// Decode validates payload against the schema of kind and unmarshals it into out.
func Decode(kind Kind, payload []byte, out any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(kind)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func loadSchema(kind Kind) (*jsonschema.Schema, error) {
	entry, ok := compiled[kind]
	if !ok {
		return nil, fmt.Errorf("unknown schema kind %q", kind)
	}

	entry.once.Do(func() {
		name := string(kind) + ".schema.json"
		raw, err := schemaFiles.ReadFile(name)
		if err != nil {
			entry.err = fmt.Errorf("read schema %s: %w", name, err)
			return
		}

		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			entry.err = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(name)
		if err != nil {
			entry.err = fmt.Errorf("compile schema: %w", err)
			return
		}
		entry.schema = schema
	})

	if entry.err != nil {
		return nil, entry.err
	}
	if entry.schema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return entry.schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
