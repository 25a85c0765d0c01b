package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "plain text",
			body: "check this out https://example-tumblr-host/post/123",
			want: []string{"https://example-tumblr-host/post/123"},
		},
		{
			name: "markdown link and trailing punctuation",
			body: "look [here](https://i.4cdn.org/a/1.png). also http://gyazo.com/abc!",
			want: []string{"https://i.4cdn.org/a/1.png", "http://gyazo.com/abc"},
		},
		{
			name: "escaped ampersands and duplicates",
			body: "https://x.com/?a=1&amp;b=2 https://x.com/?a=1&b=2",
			want: []string{"https://x.com/?a=1&b=2"},
		},
		{
			name: "no url",
			body: "nothing to see here",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractURLs(tt.body)
			require.Len(t, got, len(tt.want))
			for i, u := range got {
				assert.Equal(t, tt.want[i], u.String())
			}
		})
	}
}

func TestIgnoreList(t *testing.T) {
	list := NewIgnoreList("imgur.com", "  ", "Reddit.com/r/private")

	assert.Equal(t, 2, list.Len())

	ignored, term := list.IsIgnored("https://i.imgur.com/abc.png")
	assert.True(t, ignored)
	assert.Equal(t, "imgur.com", term)

	ignored, _ = list.IsIgnored("https://reddit.com/r/PRIVATE/comments/1")
	assert.True(t, ignored)

	ignored, _ = list.IsIgnored("https://gyazo.com/abc")
	assert.False(t, ignored)

	var empty *IgnoreList
	ignored, _ = empty.IsIgnored("https://gyazo.com/abc")
	assert.False(t, ignored)
}

func TestLoadIgnoreList(t *testing.T) {
	dir := t.TempDir()

	list, err := LoadIgnoreList(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Zero(t, list.Len())

	path := filepath.Join(dir, "ignore.txt")
	require.NoError(t, os.WriteFile(path, []byte("# hosts that opted out\nGyazo.com\n\n  deviantart.com/private  \n"), 0o644))

	list, err = LoadIgnoreList(path)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Len())

	ignored, term := list.IsIgnored("https://i.gyazo.com/abc.png")
	assert.True(t, ignored)
	assert.Equal(t, "Gyazo.com", term, "the term is reported as written")

	ignored, _ = list.IsIgnored("https://www.deviantart.com/private/art/1")
	assert.True(t, ignored)
	ignored, _ = list.IsIgnored("https://www.deviantart.com/public/art/1")
	assert.False(t, ignored)
}
