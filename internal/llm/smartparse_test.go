package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

type parsed struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestSmartParseStrictJSON(t *testing.T) {
	var out parsed
	err := SmartParse(`{"title":"HOWTO: configure X","tags":["howto","config"]}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "HOWTO: configure X", out.Title)
	assert.Len(t, out.Tags, 2)
}

func TestSmartParseStripsCodeFence(t *testing.T) {
	input := "```json\n{\"title\":\"fenced\",\"tags\":[]}\n```"
	var out parsed
	require.NoError(t, SmartParse(input, &out))
	assert.Equal(t, "fenced", out.Title)
}

func TestSmartParseRepairsTrailingComma(t *testing.T) {
	input := `{"title": "broken", "tags": ["a", "b",],}`
	var out parsed
	require.NoError(t, SmartParse(input, &out))
	assert.Equal(t, "broken", out.Title)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
}

func TestSmartParseHandlesUnquotedKeys(t *testing.T) {
	input := `{title: "loose", tags: ["x"]}`
	var out parsed
	require.NoError(t, SmartParse(input, &out))
	assert.Equal(t, "loose", out.Title)
}

func TestSmartParseRejectsGarbage(t *testing.T) {
	var out parsed
	err := SmartParse("I could not produce the requested structure, sorry!{", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGenerationFailed)
}

func TestStripFencesKeepsBareJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences(` {"a":1} `))
}

func TestStripFencesKeepsFencelessBackticksContent(t *testing.T) {
	input := "```\n{\"title\":\"no tag\"}\n```"
	var out parsed
	require.NoError(t, SmartParse(input, &out))
	assert.Equal(t, "no tag", out.Title)
}
