package optimizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

const sample = `# Runbook
Intro line one.
Intro line two.

## Deploy
First we build the image. Then we push it. Finally we roll out.
Second paragraph line.

` + "```sh" + `
make release
# not a heading
` + "```" + `

- Check the dashboards. Then wait.
- Announce in chat.

## Rollback
Revert the tag.`

func TestSummarize_KeySections(t *testing.T) {
	got := Summarize(sample, SummaryKeySections, 1)
	want := "# Runbook\nIntro line one.\n## Deploy\nFirst we build the image. Then we push it. Finally we roll out.\n## Rollback\nRevert the tag."
	assert.Equal(t, want, got)
}

func TestSummarize_Compressed(t *testing.T) {
	got := Summarize(sample, SummaryCompressed, 0)
	want := "# Runbook\nIntro line one.\n## Deploy\nFirst we build the image.\n```sh\nmake release\n# not a heading\n```\n" +
		"- Check the dashboards.\n- Announce in chat.\n## Rollback\nRevert the tag."
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("compressed summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_HeadingsOnly(t *testing.T) {
	got := Summarize(sample, SummaryHeadings, 0)
	assert.Equal(t, "# Runbook\n## Deploy\n## Rollback", got)
}

func TestSummarize_NoneIsIdentity(t *testing.T) {
	assert.Equal(t, sample, Summarize(sample, SummaryNone, 0))
}

func TestSummaryLevel_String(t *testing.T) {
	assert.Equal(t, "none", SummaryNone.String())
	assert.Equal(t, "headings_only", SummaryHeadings.String())
	assert.Equal(t, "level_9", SummaryLevel(9).String())
}

func TestSplitSections_TitleStaysWithPreamble(t *testing.T) {
	secs := SplitSections(sample)

	var headings []string
	for _, s := range secs {
		headings = append(headings, s.Heading)
	}
	assert.Equal(t, []string{"", "Deploy", "Rollback"}, headings)
	assert.Equal(t, "# Runbook\nIntro line one.\nIntro line two.\n", secs[0].Text)
	assert.Equal(t, "## Rollback\nRevert the tag.", secs[2].Text)
	for i, s := range secs {
		assert.Equal(t, i, s.Index)
	}
}

func TestSplitSections_SiblingTopHeadings(t *testing.T) {
	secs := SplitSections("# A\none\n# B\ntwo")
	assert.Len(t, secs, 2)
	assert.Equal(t, "A", secs[0].Heading)
	assert.Equal(t, "# B\ntwo", secs[1].Text)
}

func TestSplitSections_NoHeadings(t *testing.T) {
	secs := SplitSections("just text")
	assert.Equal(t, []Section{{Text: "just text"}}, secs)
}
