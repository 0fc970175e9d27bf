package browser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibleText(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		want      string
		wantNot   []string
		truncated bool
	}{
		{
			name: "drops script style and head",
			input: `<html><head><title>Cart</title><style>p{color:red}</style></head>
				<body><script>alert('x')</script><h1>Your cart</h1><p>Two   items</p></body></html>`,
			want:    "Your cart\nTwo items",
			wantNot: []string{"alert", "color", "Cart"},
		},
		{
			name:  "inline elements stay on one line",
			input: `<body><p>Total: <b>$12</b> <a href="#">edit</a></p></body>`,
			want:  "Total: $12 edit",
		},
		{
			name:  "comments are ignored",
			input: `<body><!-- hidden --><div>shown</div></body>`,
			want:  "shown",
		},
		{
			name:      "truncation",
			input:     `<body><p>abcdefghij</p></body>`,
			maxLength: 4,
			want:      "abcd",
			truncated: true,
		},
		{
			name:      "truncation keeps whole runes",
			input:     `<body><p>€€€</p></body>`,
			maxLength: 4,
			want:      "€",
			truncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated, err := VisibleText(tt.input, tt.maxLength)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.truncated, truncated)
			for _, s := range tt.wantNot {
				assert.False(t, strings.Contains(got, s), "unexpected %q in %q", s, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 7, "日本"},
		{"日本語", 0, ""},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "Truncate(%q, %d)", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Checkout", ExtractTitle(`<html><head><title> Checkout </title></head></html>`))
	assert.Equal(t, "", ExtractTitle(`<html><body>no title</body></html>`))
}
