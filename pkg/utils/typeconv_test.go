package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BartekS5/refpull/pkg/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConvertValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		cfg  models.FieldConfig
		want any
	}{
		{"int from string", "42", models.FieldConfig{Type: "int"}, int64(42)},
		{"int from float", 7.0, models.FieldConfig{Type: "int"}, int64(7)},
		{"float from string", "1.5", models.FieldConfig{Type: "float"}, 1.5},
		{"bool from string", "true", models.FieldConfig{Type: "bool"}, true},
		{"string from int", 12, models.FieldConfig{Type: "string"}, "12"},
		{"enum", "ACTIVE", models.FieldConfig{Type: "enum"}, "ACTIVE"},
		{"datetime rfc3339", "2024-03-01T12:00:00Z", models.FieldConfig{Type: "datetime"}, ts},
		{"datetime layout", "01/03/2024", models.FieldConfig{Type: "datetime", Format: "02/01/2006"}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"datetime bson", primitive.NewDateTimeFromTime(ts), models.FieldConfig{Type: "datetime"}, ts},
		{"passthrough", []int{1}, models.FieldConfig{Type: "other"}, nil},
		{"nil", nil, models.FieldConfig{Type: "int"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ConvertValue(tc.in, tc.cfg)
			if err != nil {
				t.Fatalf("ConvertValue: %v", err)
			}
			if tc.name == "passthrough" {
				if _, ok := got.([]int); !ok {
					t.Errorf("expected passthrough, got %T", got)
				}
				return
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tc.want.(time.Time)) {
					t.Errorf("got %v, want %v", gt, tc.want)
				}
				return
			}
			if got != tc.want {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestConvertValue_Errors(t *testing.T) {
	if _, err := ConvertValue("abc", models.FieldConfig{Type: "int"}); err == nil {
		t.Error("expected error converting 'abc' to int")
	}
	if _, err := ConvertValue("yesterday", models.FieldConfig{Type: "datetime"}); err == nil {
		t.Error("expected error parsing datetime")
	}
	if _, err := ConvertValue(struct{}{}, models.FieldConfig{Type: "float"}); err == nil {
		t.Error("expected error converting struct to float")
	}
}

func TestStringify(t *testing.T) {
	oid, _ := primitive.ObjectIDFromHex("65f1a2b3c4d5e6f708192a3b")
	cases := []struct {
		in     any
		format string
		want   string
	}{
		{nil, "", ""},
		{"x", "", "x"},
		{[]byte("raw"), "", "raw"},
		{true, "", "true"},
		{int64(-3), "", "-3"},
		{2.0, "", "2"},
		{0.1, "", "0.1"},
		{1.23456, "%.2f", "1.23"},
		{json.Number("10"), "", "10"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)), "", "2024-01-02T02:04:05Z"},
		{oid, "", "65f1a2b3c4d5e6f708192a3b"},
		{map[string]any{"b": 1, "a": 2}, "", `{"a":2,"b":1}`},
		{[]any{"a", 1}, "", `["a",1]`},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in, tc.format); got != tc.want {
			t.Errorf("Stringify(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
