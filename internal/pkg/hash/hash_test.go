package hash

import (
	"strings"
	"testing"
)

func TestSHA256(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{
			[]byte("hello"),
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			[]byte(""),
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := SHA256(tt.input); got != tt.want {
				t.Errorf("SHA256(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSHA256Short(t *testing.T) {
	full := SHA256String("hello")

	if got := SHA256Short([]byte("hello"), 8); got != full[:8] {
		t.Errorf("SHA256Short(8) = %s, want %s", got, full[:8])
	}
	if got := SHA256Short([]byte("hello"), 100); got != full {
		t.Errorf("SHA256Short(100) = %s, want full hash", got)
	}
}

func TestPairKey(t *testing.T) {
	k1 := PairKey("graph neural networks", "a1")
	k2 := PairKey("graph neural networks", "a1")
	if k1 != k2 {
		t.Errorf("PairKey not deterministic: %s != %s", k1, k2)
	}

	if PairKey("ab", "c") == PairKey("a", "bc") {
		t.Error("PairKey should separate query and document id")
	}

	if len(k1) != 32 {
		t.Errorf("PairKey length = %d, want 32", len(k1))
	}
	for _, c := range k1 {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("PairKey contains non-hex character: %c", c)
		}
	}
}

func TestToken(t *testing.T) {
	if Token("traffic") != Token("traffic") {
		t.Error("Token not deterministic")
	}
	if Token("traffic") == Token("graph") {
		t.Error("unexpected collision between distinct tokens")
	}
}
