// Package registry implements the Tool Registry: a read-mostly
// catalogue of ToolDescriptors ranked against free text.
package registry

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

const minScore = 0.10

// Embedder produces a dense vector for a piece of text. When nil, Rank
// falls back entirely to the deterministic token-overlap score.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// BlendWeight controls how much an embedding-based score counts versus the
// lexical-overlap score when both are available, mirroring the blend knob
// app/intelligence/semantic_matcher.py uses instead of an exclusive
// either/or choice. 1.0 means pure embedding; smaller values give the
// lexical score more weight. New treats zero or negative values as 1.0 and
// caps values above 1 at 1. It has no effect when Embedder is nil.
type Config struct {
	BlendWeight float64
}

type entry struct {
	descriptor contractx.ToolDescriptor
	tool       contractx.Tool
	tokens     map[string]struct{}
	embedding  []float64
}

// Registry is the concrete contract.Registry implementation.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	embedder Embedder
	blend    float64
}

func New(embedder Embedder, cfg Config) *Registry {
	blend := cfg.BlendWeight
	if blend <= 0 {
		blend = 1.0
	}
	if blend > 1 {
		blend = 1
	}
	return &Registry{
		entries:  make(map[string]*entry),
		embedder: embedder,
		blend:    blend,
	}
}

var _ contractx.Registry = (*Registry)(nil)

// Register adds a tool to the catalogue. Registration only happens at
// startup, before any Rank/Get/ListByClass call is reachable by a run.
func (r *Registry) Register(descriptor contractx.ToolDescriptor, tool contractx.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.TrimSpace(descriptor.Name)
	if name == "" {
		return &contractx.RegistryError{Kind: contractx.ErrValidation, Name: "(empty)"}
	}
	if _, exists := r.entries[name]; exists {
		return &contractx.RegistryError{Kind: contractx.ErrDuplicateName, Name: name}
	}

	e := &entry{
		descriptor: descriptor,
		tool:       tool,
		tokens:     tokenize(descriptor.Description + " " + descriptor.Name + " " + strings.Join(descriptor.Keywords, " ")),
	}
	if r.embedder != nil {
		if vec, err := r.embedder.Embed(context.Background(), descriptor.Description+" "+descriptor.Name); err == nil {
			e.embedding = vec
		}
	}
	r.entries[name] = e
	return nil
}

func (r *Registry) Get(name string) (contractx.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

func (r *Registry) ListByClass(c contractx.DataSourceClass) []contractx.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contractx.ToolDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.descriptor.DataSourceClass == c {
			out = append(out, e.descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rank returns candidates ordered by descending score, ties broken by
// descending priority then ascending name. Scores below minScore are
// dropped.
func (r *Registry) Rank(ctx context.Context, queryText string, filter *contractx.DataSourceClass) ([]contractx.RankedTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var queryEmbedding []float64
	if r.embedder != nil {
		if vec, err := r.embedder.Embed(ctx, queryText); err == nil {
			queryEmbedding = vec
		}
	}
	queryTokens := tokenize(queryText)

	candidates := make([]contractx.RankedTool, 0, len(r.entries))
	for _, e := range r.entries {
		if filter != nil && e.descriptor.DataSourceClass != *filter {
			continue
		}

		score := jaccard(queryTokens, e.tokens)
		if queryEmbedding != nil && e.embedding != nil {
			embedScore := cosine(queryEmbedding, e.embedding)
			score = r.blend*embedScore + (1-r.blend)*score
		}
		if score < minScore {
			continue
		}
		candidates = append(candidates, contractx.RankedTool{Descriptor: e.descriptor, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Descriptor.Priority != candidates[j].Descriptor.Priority {
			return candidates[i].Descriptor.Priority > candidates[j].Descriptor.Priority
		}
		return candidates[i].Descriptor.Name < candidates[j].Descriptor.Name
	})

	return candidates, nil
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) map[string]struct{} {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
