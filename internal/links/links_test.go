package links

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_ReferenceForms(t *testing.T) {
	text := "See [[techContext]] and [[the patterns -> systemPatterns#Caching]].\n" +
		"Also [[notes/auth.md#Login Flow]]"

	got := Extract("activeContext.md", text)
	require.Len(t, got, 3)

	assert.Equal(t, "techContext.md", got[0].Target)
	assert.Equal(t, KindReference, got[0].Kind)
	assert.Equal(t, 1, got[0].Line)

	assert.Equal(t, "systemPatterns.md", got[1].Target)
	assert.Equal(t, "Caching", got[1].Section)
	assert.Equal(t, "the patterns", got[1].Text)

	assert.Equal(t, "notes/auth.md", got[2].Target)
	assert.Equal(t, "Login Flow", got[2].Section)
	assert.Equal(t, 2, got[2].Line)
	assert.Equal(t, "activeContext.md", got[2].Source)
}

func TestExtract_TransclusionOptions(t *testing.T) {
	text := "# Context\n\n![[progress#Done|lines=3, recursive=false]]\n![[techContext]]"

	got := Extract("activeContext.md", text)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, KindTransclusion, first.Kind)
	assert.Equal(t, "progress.md", first.Target)
	assert.Equal(t, "Done", first.Section)
	assert.Equal(t, 3, first.Line)
	require.NotNil(t, first.Options.Lines)
	assert.Equal(t, 3, *first.Options.Lines)
	assert.False(t, first.Options.Recursive)

	second := got[1]
	assert.Nil(t, second.Options.Lines)
	assert.True(t, second.Options.Recursive, "recursive defaults to true")
}

func TestExtract_InvalidAndUnknownOptions(t *testing.T) {
	got := Extract("a.md", "![[b|lines=zero,recursive=maybe,style=quote]]")
	require.Len(t, got, 1)

	opts := got[0].Options
	assert.Nil(t, opts.Lines)
	assert.True(t, opts.Recursive)
	assert.ElementsMatch(t, []string{"lines=zero", "recursive=maybe"}, opts.Invalid)
	assert.Equal(t, map[string]string{"style": "quote"}, opts.Unknown)
}

func TestExtract_IgnoresFencedCode(t *testing.T) {
	text := "```\n![[secret]]\n[[also-hidden]]\n```\n[[visible]]"

	got := Extract("a.md", text)
	require.Len(t, got, 1)
	assert.Equal(t, "visible.md", got[0].Target)
	assert.Equal(t, 5, got[0].Line)
}

func TestExtract_SkipsEmptyTargets(t *testing.T) {
	assert.Empty(t, Extract("a.md", "[[ ]] and ![[#Only Section]]"))
}

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"progress", "progress.md"},
		{"progress.md", "progress.md"},
		{" notes\\auth ", "notes/auth.md"},
		{"../escape", "escape.md"},
		{"diagram.mmd", "diagram.mmd"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTarget(tt.in))
		})
	}
}

func TestOptionsSignature_OrderIndependent(t *testing.T) {
	a := Extract("x.md", "![[y|lines=5,recursive=false]]")[0].Options
	b := Extract("x.md", "![[y|recursive=false,lines=5]]")[0].Options
	c := Extract("x.md", "![[y]]")[0].Options

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestReplaceTransclusions(t *testing.T) {
	text := "intro [[ref]] ![[a]] mid ![[b#S]]\n```\n![[c]]\n```"

	var seen []string
	out, err := ReplaceTransclusions("doc.md", text, func(l Link) (string, error) {
		seen = append(seen, l.Target+"#"+l.Section)
		return strings.ToUpper(strings.TrimSuffix(l.Target, ".md")), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.md#", "b.md#S"}, seen)
	assert.Equal(t, "intro [[ref]] A mid B\n```\n![[c]]\n```", out)
}

func TestReplaceTransclusions_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReplaceTransclusions("doc.md", "![[a]]", func(Link) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}
