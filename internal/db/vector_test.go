package db

import (
	"math"
	"reflect"
	"testing"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()

	literal, err := VectorLiteral([]float64{0.5, -1, 0.25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if literal != "[0.5,-1,0.25]" {
		t.Fatalf("unexpected literal: got %q", literal)
	}

	parsed, err := ParseVector(&literal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(parsed, []float64{0.5, -1, 0.25}) {
		t.Fatalf("unexpected vector: %v", parsed)
	}
}

func TestVectorLiteralRejectsNonFinite(t *testing.T) {
	t.Parallel()

	if _, err := VectorLiteral([]float64{1, math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN")
	}
	if _, err := VectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}

func TestParseVectorNullAndGarbage(t *testing.T) {
	t.Parallel()

	if v, err := ParseVector(nil); err != nil || v != nil {
		t.Fatalf("expected nil vector for NULL, got %v %v", v, err)
	}
	garbage := "[1,abc]"
	if _, err := ParseVector(&garbage); err == nil {
		t.Fatalf("expected parse error for %q", garbage)
	}
}

func TestInt64ListScanAndValue(t *testing.T) {
	t.Parallel()

	var list Int64List
	if err := list.Scan([]byte("[3,1,2]")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual([]int64(list), []int64{3, 1, 2}) {
		t.Fatalf("unexpected list: %v", list)
	}

	value, err := Int64List(nil).Value()
	if err != nil || value != "[]" {
		t.Fatalf("unexpected nil value: %v %v", value, err)
	}
}
