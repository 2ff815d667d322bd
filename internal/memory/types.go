package memory

import "time"

// #region config
// Config holds limits for the memory probe.
type Config struct {
	TopK                int           `yaml:"top_k"`                // max results from vector search
	SimilarityThreshold float32       `yaml:"similarity_threshold"` // server-side floor; 0 keeps weak matches
	MaxEvidenceLen      int           `yaml:"max_evidence_len"`     // max chars per stored message
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	SearchTimeout       time.Duration `yaml:"search_timeout"`
}

// DefaultConfig returns sensible defaults for the memory probe.
func DefaultConfig() Config {
	return Config{
		TopK:                5,
		SimilarityThreshold: 0,
		MaxEvidenceLen:      2000,
		EmbedTimeout:        2 * time.Second,
		SearchTimeout:       time.Second,
	}
}

// #endregion config

// #region records
// Record is one remembered message returned by a search.
type Record struct {
	ID           string
	Text         string
	Score        float32
	MetadataJSON string
}

// Probe is what the boundary detector needs about one message: its
// embedding and how close it is to the thread's memory. BestMatch is NaN
// when memory could not be searched.
type Probe struct {
	Embedding []float32
	BestMatch float64
	Matches   []Record
	Reason    string
}

// #endregion records
