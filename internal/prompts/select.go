package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/clara/internal/providers"
)

// SelectByEmbedding returns the n examples whose embeddings are closest
// (cosine) to query. Ties keep the original example order.
func SelectByEmbedding(ctx context.Context, embedder providers.Embedder, query string, examples []Example, n int) ([]Example, error) {
	if n <= 0 || len(examples) <= n {
		return examples, nil
	}
	texts := make([]string, 0, len(examples)+1)
	texts = append(texts, query)
	for _, e := range examples {
		texts = append(texts, e.Text)
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed examples: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	scores := make([]float64, len(examples))
	for i := range examples {
		scores[i] = cosine(vecs[0], vecs[i+1])
	}
	return topN(examples, scores, n), nil
}

// NgramWeights weights unigram, bigram and trigram similarity.
var NgramWeights = []float64{0.2, 0.3, 0.5}

// SelectByPOSNgrams returns the n examples whose POS n-gram profile is
// closest to queryPOS. Examples without POS tags score zero.
func SelectByPOSNgrams(cache *NgramCache, queryPOS []string, examples []Example, n int) []Example {
	if n <= 0 || len(examples) <= n {
		return examples
	}
	if cache == nil {
		cache = DefaultNgramCache
	}
	q := cache.Profile(queryPOS)
	scores := make([]float64, len(examples))
	for i, e := range examples {
		scores[i] = WeightedNgramSimilarity(q, cache.Profile(e.Pos))
	}
	return topN(examples, scores, n)
}

// WeightedNgramSimilarity combines per-order cosine similarities.
func WeightedNgramSimilarity(a, b NgramProfile) float64 {
	total := 0.0
	for i, w := range NgramWeights {
		if i >= len(a) || i >= len(b) {
			break
		}
		total += w * sparseCosine(a[i], b[i])
	}
	return total
}

func topN(examples []Example, scores []float64, n int) []Example {
	idx := make([]int, len(examples))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	out := make([]Example, n)
	for i := 0; i < n; i++ {
		out[i] = examples[idx[i]]
	}
	return out
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sparseCosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for k, v := range a {
		dot += v * b[k]
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NgramProfile holds n-gram counts for n = 1..len(profile).
type NgramProfile []map[string]float64

// NgramCache memoises POS n-gram profiles. It is shared process-wide and
// can be persisted as JSON.
type NgramCache struct {
	mu       sync.RWMutex
	profiles map[string]NgramProfile
}

// DefaultNgramCache is the process-wide cache.
var DefaultNgramCache = NewNgramCache()

// NewNgramCache creates an empty cache.
func NewNgramCache() *NgramCache {
	return &NgramCache{profiles: make(map[string]NgramProfile)}
}

// Profile returns the n-gram profile of a tag sequence.
func (c *NgramCache) Profile(tags []string) NgramProfile {
	key := strings.Join(tags, " ")
	c.mu.RLock()
	p, ok := c.profiles[key]
	c.mu.RUnlock()
	if ok {
		return p
	}
	p = buildProfile(tags, len(NgramWeights))
	c.mu.Lock()
	c.profiles[key] = p
	c.mu.Unlock()
	return p
}

// Len returns the number of cached profiles.
func (c *NgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// Save writes the cache to path as JSON.
func (c *NgramCache) Save(path string) error {
	c.mu.RLock()
	data, err := json.Marshal(c.profiles)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode n-gram cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load merges the cache stored at path. A missing file is not an error.
func (c *NgramCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var profiles map[string]NgramProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to decode n-gram cache: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range profiles {
		c.profiles[k] = v
	}
	return nil
}

func buildProfile(tags []string, maxN int) NgramProfile {
	p := make(NgramProfile, maxN)
	for n := 1; n <= maxN; n++ {
		m := make(map[string]float64)
		for i := 0; i+n <= len(tags); i++ {
			m[strings.Join(tags[i:i+n], " ")]++
		}
		p[n-1] = m
	}
	return p
}
