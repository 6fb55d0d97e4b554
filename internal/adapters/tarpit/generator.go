package tarpit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/xoelrdgz/webtrap/internal/ports"
)

const (
	sentencesPerPage = 15
	fakeLinkCount    = 7
	fakeLinkDepth    = 3

	fallbackBody = `<!DOCTYPE html>
<html><head><title>Loading Resource...</title><meta name="robots" content="noindex, nofollow"></head>
<body><h1>Please wait</h1><p>Your content is loading slowly...</p><progress></progress>
</body></html>`
)

// Generator produces the fake HTML pages the tarpit streams. Every page is a
// pure function of (system seed, request path): the digest of the two seeds a
// local PRNG that drives the title, the Markov walk, and the fake link set,
// so replayed requests receive byte-identical bodies.
type Generator struct {
	model ports.MarkovSource
	seed  string
}

func NewGenerator(model ports.MarkovSource, seed string) *Generator {
	return &Generator{model: model, seed: seed}
}

// rngFor derives the per-path generator. The path is hashed first so the
// combined seed never leaks path structure into seed handling.
func (g *Generator) rngFor(path string) *rand.Rand {
	path = strings.ReplaceAll(path, "\\", "/")
	pathHash := sha256.Sum256([]byte(path))
	combined := sha256.Sum256([]byte(g.seed + "-" + hex.EncodeToString(pathHash[:])))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(combined[:8]))))
}

// Page renders the full HTML document for a request path.
func (g *Generator) Page(ctx context.Context, path string) (string, error) {
	rng := g.rngFor(path)

	title := pageTitle(rng)
	body, err := g.markovText(ctx, rng, sentencesPerPage)
	if err != nil {
		return "", err
	}
	links := fakeLinks(rng, fakeLinkCount, fakeLinkDepth)

	var sb strings.Builder
	sb.Grow(len(body) + 2048)
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	fmt.Fprintf(&sb, "    <title>%s - System Documentation</title>\n", title)
	sb.WriteString("    <meta name=\"robots\" content=\"noindex, nofollow\">\n")
	sb.WriteString(`    <style>
        body { font-family: 'Courier New', Courier, monospace; background-color: #f0f0f0; color: #333; padding: 2em; line-height: 1.6; }
        h1 { border-bottom: 1px solid #ccc; padding-bottom: 0.5em; color: #555; }
        h2 { color: #666; margin-top: 2em; }
        a { color: #3478af; text-decoration: none; }
        a:hover { text-decoration: underline; }
        ul { list-style-type: square; padding-left: 2em; }
        p { text-align: justify; }
        .footer-link { display: inline-block; margin-top: 40px; font-size: 0.8em; color: #aaa; visibility: hidden; }
    </style>
`)
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "    <h1>%s</h1>\n", title)
	sb.WriteString(body)
	sb.WriteString("    <h2>Further Reading:</h2>\n    <ul>\n")
	for _, link := range links {
		fmt.Fprintf(&sb, "        <li><a href=\"%s\">%s</a></li>\n", link, anchorText(link))
	}
	sb.WriteString("    </ul>\n")
	sb.WriteString("    <a href=\"/internal-docs/admin-credentials.zip\" class=\"footer-link\">Admin Console Credentials</a>\n")
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}

// markovText walks the bigram model from the empty-token pair, sampling
// successors weighted by corpus frequency. Dead ends and explicit chain ends
// restart the walk; sentence-ending punctuation closes a paragraph once it
// holds more than five words. Sentence starts are uppercased during the join.
func (g *Generator) markovText(ctx context.Context, rng *rand.Rand, sentences int) (string, error) {
	if g.model == nil {
		return "<p>Content generation unavailable.</p>\n", nil
	}

	p1, p2 := int64(ports.EmptyWordID), int64(ports.EmptyWordID)
	maxWords := sentences * (15 + rng.Intn(16))

	var (
		out       strings.Builder
		paragraph []string
		wordCount int
		capNext   = true
	)

	closeParagraph := func(addPeriod bool) {
		if len(paragraph) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(strings.Join(paragraph, " "))
		if addPeriod {
			out.WriteString(".")
		}
		out.WriteString("</p>\n")
		paragraph = paragraph[:0]
	}

	for wordCount < maxWords {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidates, err := g.model.Successors(ctx, p1, p2)
		if err != nil {
			break
		}
		if len(candidates) == 0 {
			if p1 == ports.EmptyWordID && p2 == ports.EmptyWordID {
				// Empty or missing model, nothing to walk.
				break
			}
			p1, p2 = ports.EmptyWordID, ports.EmptyWordID
			continue
		}

		pick := sampleWeighted(rng, candidates)
		if pick.Word == "" {
			closeParagraph(true)
			capNext = true
			p1, p2 = ports.EmptyWordID, ports.EmptyWordID
			continue
		}

		word := pick.Word
		if capNext {
			word = capitalize(word)
			capNext = false
		}
		paragraph = append(paragraph, word)
		wordCount++

		p1, p2 = p2, pick.ID

		if endsSentence(pick.Word) {
			capNext = true
			if len(paragraph) > 5 {
				closeParagraph(false)
				p1, p2 = ports.EmptyWordID, ports.EmptyWordID
			}
		}
	}
	closeParagraph(true)

	if out.Len() == 0 {
		return "<p>Content generation unavailable.</p>\n", nil
	}
	return out.String(), nil
}

func sampleWeighted(rng *rand.Rand, candidates []ports.Successor) ports.Successor {
	var total int64
	for _, c := range candidates {
		if c.Freq > 0 {
			total += c.Freq
		}
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}
	x := rng.Int63n(total)
	for _, c := range candidates {
		if c.Freq <= 0 {
			continue
		}
		if x < c.Freq {
			return c
		}
		x -= c.Freq
	}
	return candidates[len(candidates)-1]
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	c := word[0]
	if c >= 'a' && c <= 'z' {
		return string(c-('a'-'A')) + word[1:]
	}
	return word
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomName(rng *rand.Rand, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = nameAlphabet[rng.Intn(len(nameAlphabet))]
	}
	return string(b)
}

func pageTitle(rng *rand.Rand) string {
	words := 2 + rng.Intn(3)
	parts := make([]string, words)
	for i := range parts {
		parts[i] = capitalize(randomName(rng, 5+rng.Intn(4)))
	}
	return strings.Join(parts, " ")
}

// fakeLinks invents plausible internal link targets under the tarpit mount.
// They carry no leading slash, so they resolve against the current page's
// directory and crawlers that follow them stay inside the mount.
func fakeLinks(rng *rand.Rand, count, depth int) []string {
	kinds := []struct {
		prefix string
		exts   []string
	}{
		{"page/", []string{".html"}},
		{"js/", []string{".js"}},
		{"data/", []string{".json", ".xml", ".csv"}},
		{"styles/", []string{".css"}},
	}

	links := make([]string, 0, count)
	for i := 0; i < count; i++ {
		kind := kinds[rng.Intn(len(kinds))]
		numDirs := rng.Intn(depth + 1)
		parts := make([]string, 0, numDirs+1)
		for d := 0; d < numDirs; d++ {
			parts = append(parts, randomName(rng, 5+rng.Intn(4)))
		}
		parts = append(parts, randomName(rng, 10)+kind.exts[rng.Intn(len(kind.exts))])
		links = append(links, kind.prefix+strings.Join(parts, "/"))
	}
	return links
}

func anchorText(link string) string {
	base := link
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if base == "" {
		return "Resource Link"
	}
	return capitalize(base)
}
