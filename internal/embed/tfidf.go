package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// TFIDF is a TF-IDF based text embedder. Vectors always have the full
// configured width so every embedding for a collection shares one
// dimension regardless of when the vocabulary was trained; unused slots
// stay zero. The trained model can be saved and reloaded so a later
// query embeds into the same space as the stored entries.
type TFIDF struct {
	mu         sync.RWMutex
	vocabulary map[string]int // word -> index
	idf        []float64
	maxDims    int
	trained    bool
}

// NewTFIDF creates a TF-IDF embedder producing maxDims-wide vectors.
func NewTFIDF(maxDims int) *TFIDF {
	if maxDims <= 0 {
		maxDims = 512
	}
	return &TFIDF{
		vocabulary: make(map[string]int),
		maxDims:    maxDims,
	}
}

// Train builds the vocabulary from a corpus, keeping the most frequent
// terms up to the configured width.
func (t *TFIDF) Train(documents []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	df := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, word := range tokenize(doc) {
			if !seen[word] {
				df[word]++
				seen[word] = true
			}
		}
	}

	type wordFreq struct {
		word string
		freq int
	}
	wf := make([]wordFreq, 0, len(df))
	for w, f := range df {
		wf = append(wf, wordFreq{w, f})
	}
	sort.Slice(wf, func(i, j int) bool {
		if wf[i].freq != wf[j].freq {
			return wf[i].freq > wf[j].freq
		}
		return wf[i].word < wf[j].word
	})

	if len(wf) > t.maxDims {
		wf = wf[:t.maxDims]
	}

	t.vocabulary = make(map[string]int, len(wf))
	t.idf = make([]float64, len(wf))
	n := float64(len(documents))

	for i, w := range wf {
		t.vocabulary[w.word] = i
		t.idf[i] = math.Log(n / float64(w.freq))
	}

	t.trained = true
}

// Embed converts texts to normalized TF-IDF vectors. Untrained embedders
// auto-train on the provided texts.
func (t *TFIDF) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	trained := t.trained
	t.mu.RUnlock()
	if !trained {
		t.Train(texts)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, t.maxDims)
		words := tokenize(text)

		tf := make(map[string]int)
		for _, w := range words {
			tf[w]++
		}

		for word, count := range tf {
			if idx, ok := t.vocabulary[word]; ok {
				tfVal := float64(count) / float64(len(words))
				vec[idx] = tfVal * t.idf[idx]
			}
		}

		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] /= norm
			}
		}

		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the fixed vector width.
func (t *TFIDF) Dimensions() int {
	return t.maxDims
}

// Name returns the embedder name.
func (t *TFIDF) Name() string {
	return "tfidf"
}

// tfidfModel is the persisted form of a trained embedder.
type tfidfModel struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	MaxDims    int            `json:"max_dims"`
}

// Save writes the trained model to path as JSON.
func (t *TFIDF) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.trained {
		return errors.New("embedder is not trained")
	}
	data, err := json.Marshal(tfidfModel{
		Vocabulary: t.vocabulary,
		IDF:        t.idf,
		MaxDims:    t.maxDims,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadTFIDF restores a trained embedder from a model written by Save.
func LoadTFIDF(path string) (*TFIDF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m tfidfModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &TFIDF{
		vocabulary: m.Vocabulary,
		idf:        m.IDF,
		maxDims:    m.MaxDims,
		trained:    true,
	}, nil
}

// tokenize splits text into lowercase words.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}
	return words
}
