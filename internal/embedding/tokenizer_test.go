package embedding

import (
	"testing"
)

func TestWordTokenizer_Tokenize(t *testing.T) {
	tok := &WordTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("len(ids)=%d len(attn)=%d len(types)=%d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsTokenID {
		t.Errorf("expected CLS %d, got %d", clsTokenID, ids[0])
	}
	if ids[3] != sepTokenID {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	var active int64
	for _, a := range attn {
		active += a
	}
	if active != 4 {
		t.Errorf("attention mask should cover CLS, 2 words, SEP; got %d", active)
	}
}

func TestWordTokenizer_TokenizeTruncates(t *testing.T) {
	tok := &WordTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h i j k l", 5)
	if ids[4] != sepTokenID || attn[4] != 1 {
		t.Errorf("last slot should be SEP when truncated, got %v", ids)
	}
}

func TestWordTokenizer_Split(t *testing.T) {
	tok := &WordTokenizer{}
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"whitespace", "  a  b  c  ", []string{"a", "b", "c"}},
		{"empty", "", nil},
		{"punctuation", "Hello, World!", []string{"hello", "world"}},
		{"han", "你好世界", []string{"你", "好", "世", "界"}},
		{"mixed", "go言語", []string{"go", "言", "語"}},
		{"hangul", "안녕", []string{"안", "녕"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Split(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Split(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTokenID(t *testing.T) {
	if tokenID("abc") != tokenID("abc") {
		t.Error("token id should be deterministic")
	}
	for _, w := range []string{"a", "b", "hello", "世"} {
		id := tokenID(w)
		if id <= sepTokenID || id >= vocabSize+sepTokenID+1 {
			t.Errorf("tokenID(%q) = %d out of range", w, id)
		}
	}
}
