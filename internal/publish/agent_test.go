package publish

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/llm"
	"copydesk/internal/types"
)

func TestAgentActionParsesSloppyModelOutput(t *testing.T) {
	payload := "```json\n{\"action\": \"click\", \"x\": 412, \"y\": 300, \"reason\": \"open the editor\", \"step_complete\": false,}\n```"

	var act agentAction
	require.NoError(t, llm.SmartParse(payload, &act))
	assert.Equal(t, "click", act.Action)
	assert.Equal(t, float64(412), act.X)
	assert.Equal(t, float64(300), act.Y)
	assert.False(t, act.StepComplete)
}

func TestStepDetailForBodyNeverCarriesArticleText(t *testing.T) {
	req := &Request{Article: &types.Article{
		TitleMain: "Launch notes",
		BodyText:  strings.Repeat("article body paragraph ", 50),
	}}

	detail := stepDetailFor(req, script[stepIndex(StepBody)])
	assert.NotContains(t, detail, "article body paragraph",
		"the body is typed by the provider, not echoed through the model")
	assert.Contains(t, detail, "inserted for you")
}

func TestStepDetailForSEOCarriesValues(t *testing.T) {
	req := &Request{Article: &types.Article{
		MetaDescription: "short summary here",
		SEOKeywords:     []string{"launch"},
		Tags:            []string{"release", "notes"},
	}}

	detail := stepDetailFor(req, script[stepIndex(StepSEO)])
	assert.Contains(t, detail, "short summary here")
	assert.Contains(t, detail, "launch")
	assert.Contains(t, detail, "release, notes")
}

func TestStepDetailForImagesWithoutImages(t *testing.T) {
	req := &Request{Article: &types.Article{}}
	detail := stepDetailFor(req, script[stepIndex(StepImages)])
	assert.Contains(t, detail, "mark the step complete")
}
