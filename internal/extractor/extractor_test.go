package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subtitleByLanguage(subtitles []Subtitle, language string) *Subtitle {
	for i := range subtitles {
		if subtitles[i].Language == language {
			return &subtitles[i]
		}
	}

	return nil
}

func Test_CollectSubtitles_PrefersVttRendition(t *testing.T) {
	subtitles := collectSubtitles(map[string][]ytdlSubtitleAlt{
		"en": {
			{URL: "https://example.com/en.srv1", Ext: "srv1"},
			{URL: "https://example.com/en.vtt", Ext: "vtt"},
		},
	})

	require.Len(t, subtitles, 1)
	assert.Equal(t, "https://example.com/en.vtt", subtitles[0].URL)
}

// A language whose alternatives include no vtt rendition still yields a
// caption: the first listed alternative is taken.
func Test_CollectSubtitles_FallsBackToFirstAlternative(t *testing.T) {
	subtitles := collectSubtitles(map[string][]ytdlSubtitleAlt{
		"fr": {
			{URL: "https://example.com/fr.srv1", Ext: "srv1"},
			{URL: "https://example.com/fr.ttml", Ext: "ttml"},
		},
		"en": {
			{URL: "https://example.com/en.vtt", Ext: "vtt"},
		},
	})

	require.Len(t, subtitles, 2)

	fr := subtitleByLanguage(subtitles, "fr")
	require.NotNil(t, fr)
	assert.Equal(t, "https://example.com/fr.srv1", fr.URL)

	en := subtitleByLanguage(subtitles, "en")
	require.NotNil(t, en)
	assert.Equal(t, "https://example.com/en.vtt", en.URL)
}

func Test_CollectSubtitles_SkipsEmptyAlternativeLists(t *testing.T) {
	subtitles := collectSubtitles(map[string][]ytdlSubtitleAlt{"de": {}})
	assert.Empty(t, subtitles)
}
