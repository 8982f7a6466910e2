package extract

import (
	"reflect"
	"testing"
)

func TestChunker_Split(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		text          string
		want          []string
	}{
		{"windows overlap", 3, 1, "one two three four five six seven", []string{"one two three", "three four five", "five six seven"}},
		{"short text", 5, 1, "a  b\nc", []string{"a b c"}},
		{"overlap not below size", 2, 2, "a b c", []string{"a b", "b c"}},
		{"disabled keeps text", 0, 0, "  as is\n", []string{"  as is\n"}},
		{"blank", 5, 1, "   \n\t  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Split(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split() = %q, want %q", got, tt.want)
			}
		})
	}
}
