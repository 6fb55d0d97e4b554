package tarpit

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/webtrap/internal/ports"
)

// fakeModel is a deterministic in-memory MarkovSource.
type fakeModel struct {
	table map[string][]ports.Successor
}

func (f *fakeModel) Successors(_ context.Context, p1, p2 int64) ([]ports.Successor, error) {
	return f.table[fmt.Sprintf("%d,%d", p1, p2)], nil
}

func (f *fakeModel) Ping(context.Context) error { return nil }
func (f *fakeModel) Close() error               { return nil }

func newFakeModel() *fakeModel {
	// 1 = empty token. A tiny looping corpus: the chain wanders between a
	// few words, occasionally ending a sentence or the chain itself.
	return &fakeModel{table: map[string][]ports.Successor{
		"1,1": {
			{Word: "the", ID: 2, Freq: 6},
			{Word: "signal", ID: 3, Freq: 3},
		},
		"1,2": {
			{Word: "archive", ID: 4, Freq: 5},
		},
		"2,4": {
			{Word: "rotates.", ID: 5, Freq: 4},
			{Word: "drifts", ID: 6, Freq: 2},
		},
		"4,5": {
			{Word: "", ID: 1, Freq: 3},
			{Word: "the", ID: 2, Freq: 2},
		},
		"4,6": {
			{Word: "slowly.", ID: 7, Freq: 5},
		},
		"6,7": {
			{Word: "", ID: 1, Freq: 1},
		},
		"1,3": {
			{Word: "fades.", ID: 8, Freq: 2},
		},
		"3,8": {
			{Word: "", ID: 1, Freq: 1},
		},
	}}
}

func TestGenerator_Deterministic(t *testing.T) {
	gen := NewGenerator(newFakeModel(), "seed-a")
	ctx := context.Background()

	first, err := gen.Page(ctx, "/anti-scrape-tarpit/article/42")
	require.NoError(t, err)
	second, err := gen.Page(ctx, "/anti-scrape-tarpit/article/42")
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical path and seed must yield identical bytes")
}

func TestGenerator_PathChangesOutput(t *testing.T) {
	gen := NewGenerator(newFakeModel(), "seed-a")
	ctx := context.Background()

	a, err := gen.Page(ctx, "/anti-scrape-tarpit/a")
	require.NoError(t, err)
	b, err := gen.Page(ctx, "/anti-scrape-tarpit/b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestGenerator_SeedChangesOutput(t *testing.T) {
	ctx := context.Background()

	a, err := NewGenerator(newFakeModel(), "seed-a").Page(ctx, "/x")
	require.NoError(t, err)
	b, err := NewGenerator(newFakeModel(), "seed-b").Page(ctx, "/x")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestGenerator_PageShape(t *testing.T) {
	gen := NewGenerator(newFakeModel(), "seed-a")

	page, err := gen.Page(context.Background(), "/x")
	require.NoError(t, err)

	assert.Contains(t, page, "<!DOCTYPE html>")
	assert.Contains(t, page, `<meta name="robots" content="noindex, nofollow">`)
	assert.Contains(t, page, "<h1>")
	assert.Contains(t, page, "<p>")
	assert.Contains(t, page, "Further Reading:")
	assert.Contains(t, page, "footer-link")
	assert.GreaterOrEqual(t, strings.Count(page, "<li>"), fakeLinkCount)
}

func TestGenerator_SentenceCapitalization(t *testing.T) {
	gen := NewGenerator(newFakeModel(), "seed-a")

	page, err := gen.Page(context.Background(), "/x")
	require.NoError(t, err)

	// Every paragraph starts a sentence; its first letter must be upper case.
	for _, chunk := range strings.Split(page, "<p>")[1:] {
		first := chunk[0]
		if first >= 'a' && first <= 'z' {
			t.Fatalf("paragraph starts lowercase: %q", chunk[:min(40, len(chunk))])
		}
	}
}

func TestGenerator_NilModelFallback(t *testing.T) {
	gen := NewGenerator(nil, "seed-a")

	page, err := gen.Page(context.Background(), "/x")
	require.NoError(t, err)
	assert.Contains(t, page, "Content generation unavailable.")
}

func TestGenerator_LinksStayUnderMount(t *testing.T) {
	gen := NewGenerator(newFakeModel(), "seed-a")

	page, err := gen.Page(context.Background(), "/x")
	require.NoError(t, err)

	for _, prefix := range []string{`href="page/`, `href="js/`, `href="data/`, `href="styles/`} {
		if strings.Contains(page, prefix) {
			return
		}
	}
	t.Fatal("expected at least one generated internal link")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
