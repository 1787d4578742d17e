package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pgvector/pgvector-go"
)

func errUnknownKind(kind string) error {
	return fmt.Errorf("unknown topic kind %q", kind)
}

// VectorLiteral formats a float vector as a pgvector literal.
func VectorLiteral(values []float64) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("vector is empty")
	}
	f32 := make([]float32, len(values))
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		f32[i] = float32(value)
	}
	return pgvector.NewVector(f32).String(), nil
}

// Vector32Literal formats an embedding as returned by a provider.
func Vector32Literal(values []float32) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("vector is empty")
	}
	return pgvector.NewVector(values).String(), nil
}

// ParseVector decodes a pgvector literal. A NULL column yields nil, nil.
func ParseVector(literal *string) ([]float64, error) {
	if literal == nil || strings.TrimSpace(*literal) == "" {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(strings.TrimSpace(*literal)); err != nil {
		return nil, fmt.Errorf("parse vector literal: %w", err)
	}
	raw := v.Slice()
	out := make([]float64, len(raw))
	for i, value := range raw {
		out[i] = float64(value)
	}
	return out, nil
}

// Int64List stores an id list as a jsonb array.
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (l *Int64List) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	var out []int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode int64 list: %w", err)
	}
	*l = out
	return nil
}

// StringList stores a string list as a jsonb array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (l *StringList) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*l = out
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported jsonb source %T", src)
	}
}
