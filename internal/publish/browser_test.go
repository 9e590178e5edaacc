package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"copydesk/internal/types"
)

func TestParseCMSArticleID(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"edit query", "http://cms.local/wp-admin/post.php?post=123&action=edit", "123"},
		{"short query", "http://cms.local/?p=77", "77"},
		{"slug path", "https://cms.local/drafts/my-article", "my-article"},
		{"script path", "https://cms.local/wp-admin/post-new.php", ""},
		{"root", "https://cms.local/", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseCMSArticleID(tc.url))
		})
	}
}

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base string
		path string
		want string
	}{
		{"http://cms.local", "/wp-login.php", "http://cms.local/wp-login.php"},
		{"http://cms.local/", "wp-login.php", "http://cms.local/wp-login.php"},
		{"http://cms.local/", "/wp-admin/edit.php?post_status=draft", "http://cms.local/wp-admin/edit.php?post_status=draft"},
		{"http://cms.local", "", "http://cms.local"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, joinURL(tc.base, tc.path))
	}
}

func TestMetaDescriptionPrefersConfirmedValue(t *testing.T) {
	art := &types.Article{MetaDescription: "approved", SuggestedMetaDescription: "proposed"}
	assert.Equal(t, "approved", metaDescription(art))

	art.MetaDescription = ""
	assert.Equal(t, "proposed", metaDescription(art))
}

func TestRecorderReportsWithoutSink(t *testing.T) {
	// A nil sink must not panic; providers run headless in tests.
	rec := &recorder{provider: types.ProviderPlaywright}
	rec.progressOnly(script[stepIndex(StepLogin)])
	assert.Empty(t, rec.taken)
}

func TestRecorderForwardsProgress(t *testing.T) {
	var gotStep string
	var gotPercent int
	var gotStatus types.TaskStatus
	var gotRef string

	rec := &recorder{
		provider: types.ProviderPlaywright,
		sink: ProgressFunc(func(step string, percent int, status types.TaskStatus, ref string) {
			gotStep, gotPercent, gotStatus, gotRef = step, percent, status, ref
		}),
	}
	st := script[stepIndex(StepLogin)]
	rec.progressOnly(st)

	assert.Equal(t, StepLogin, gotStep)
	assert.Equal(t, st.percent, gotPercent)
	assert.Equal(t, types.TaskLoggingIn, gotStatus)
	assert.Empty(t, gotRef, "login never carries a screenshot reference")
}
