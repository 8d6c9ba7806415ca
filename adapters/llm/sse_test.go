package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSSEParser(t *testing.T) {
	body := ": keep-alive\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"event: ping\n" +
		"data: {\"b\":2}\r\n" +
		"data: [DONE]"

	p := newSSEParser(strings.NewReader(body))

	want := []string{`{"a":1}`, `{"b":2}`, "[DONE]"}
	for i, w := range want {
		got, err := p.Next()
		if err != nil {
			t.Fatalf("record %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("record %d: expected %q, got %q", i, w, got)
		}
	}

	if _, err := p.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestSplitSSEField(t *testing.T) {
	tests := []struct {
		line  string
		field string
		value string
	}{
		{line: "data: hello", field: "data", value: "hello"},
		{line: "data:hello", field: "data", value: "hello"},
		{line: "data:  two spaces", field: "data", value: " two spaces"},
		{line: "retry", field: "retry", value: ""},
	}

	for _, tt := range tests {
		field, value := splitSSEField(tt.line)
		if field != tt.field || value != tt.value {
			t.Errorf("splitSSEField(%q) = (%q, %q), want (%q, %q)", tt.line, field, value, tt.field, tt.value)
		}
	}
}
