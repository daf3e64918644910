// Package mock provides a test double for the embeddings.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Vector: []float32{0.1, 0.2, 0.3}}
//	vec, _ := p.Embed(ctx, "the heist at the lighthouse")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/scryer/pkg/provider/embeddings"
)

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. Every text maps
// to Vector unless Vectors holds an entry for it.
type Provider struct {
	mu sync.Mutex

	// Vector is returned for texts without an entry in Vectors.
	Vector []float32

	// Vectors maps specific texts to their embedding.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// DimensionsValue is returned by Dimensions; defaults to len(Vector).
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	texts []string
}

// Embed records text and returns its configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.lookup(text), nil
}

// EmbedBatch records texts and returns one vector per entry.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.lookup(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DimensionsValue > 0 {
		return p.DimensionsValue
	}
	return len(p.Vector)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Texts returns every text submitted so far, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}

func (p *Provider) lookup(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return slices.Clone(v)
	}
	return slices.Clone(p.Vector)
}
