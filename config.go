package memory

import "time"

// Config holds every tunable constant the engine uses. Values are grounded
// in the source system's constants module where available; the rest are
// calibrated defaults documented in DESIGN.md. Callers override individual
// fields on the struct returned by DefaultConfig.
type Config struct {
	// EmbeddingDim is the fixed vector dimension D. Changing it triggers a
	// drop-and-recreate of the vector tables on next open (see Storage).
	EmbeddingDim int

	// Decay / recency (§4.9).
	MemoryDecayRate    float64
	RecencySigmaHours  float64

	// Entity resolution (§4.5).
	EntityResolutionAutoMerge          float64
	EntityResolutionNameSimThreshold   float64
	EntityTemporalSigmaHours           float64
	EntityTemporalNeutral              float64
	EntityScoreCooccurrenceWeight      float64
	EntityScoreNameWeight              float64
	EntityScoreTemporalWeight          float64
	EntityCandidatesLimit              int

	// Façade operations (§4.7).
	ForgetSimilarityThreshold float64
	ForgetSearchLimit         int
	RecallSearchLimit         int
	RecallObservationLimit    int

	// Link creation (§4.6).
	LinkTemporalSigmaHours   float64
	LinkTemporalMinWeight    float64
	LinkSemanticThreshold    float64
	LinkSemanticSearchLimit  int

	// Consolidation (§4.8).
	ConsolidationInterval    time.Duration
	ConsolidationSearchLimit int
	ConsolidationTemperature float64
	ConsolidationBatchSize   int
	ExtractionTemperature    float64

	ObservationMergeSimilarityThreshold float64
	ObservationMergeTemperature         float64

	FactMergeSimilarityThreshold float64
	FactMergeTemperature         float64

	TemporalPatternMinFacts     int
	TemporalPatternWindowDays   int
	TemporalPatternTemperature  float64
	TemporalPatternSearchLimit  int

	DreamMinFacts        int
	DreamClusterFactor   int
	DreamTemperature     float64
	DreamEvalTemperature float64
	DreamInterval        time.Duration // minimum gap between dream-pass runs

	// Retrieval (§4.9).
	RRFK                         int
	RRFOverfetchFactor           int
	EntityExpansionIDFFloor      float64
	EntityExpansionMaxFacts      int
	EntityExpansionPerEntityLimit int
	TemporalExpansionLimit       int
	TemporalExpansionBaseScore   float64
	BundledDisplayLimit          int
	RecallStandaloneFactLimit    int

	// Backoff for the consolidation loop (§5).
	BackoffCapMultiplier int
}

// DefaultConfig returns the documented defaults for every tunable constant.
// EmbeddingDim must still be set by the caller to match its embedder.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim: 768,

		MemoryDecayRate:   0.99,
		RecencySigmaHours: 72,

		EntityResolutionAutoMerge:        0.85,
		EntityResolutionNameSimThreshold: 0.5,
		EntityTemporalSigmaHours:         168,
		EntityTemporalNeutral:            0.5,
		EntityScoreCooccurrenceWeight:    0.5,
		EntityScoreNameWeight:            0.3,
		EntityScoreTemporalWeight:        0.2,
		EntityCandidatesLimit:            50,

		ForgetSimilarityThreshold: 0.8,
		ForgetSearchLimit:         10,
		RecallSearchLimit:         5,
		RecallObservationLimit:    5,

		LinkTemporalSigmaHours:  12,
		LinkTemporalMinWeight:   0.01,
		LinkSemanticThreshold:   0.7,
		LinkSemanticSearchLimit: 20,

		ConsolidationInterval:    30 * time.Second,
		ConsolidationSearchLimit: 5,
		ConsolidationTemperature: 0.1,
		ConsolidationBatchSize:   10,
		ExtractionTemperature:    0.0,

		ObservationMergeSimilarityThreshold: 0.85,
		ObservationMergeTemperature:         0.1,

		FactMergeSimilarityThreshold: 0.9,
		FactMergeTemperature:         0.1,

		TemporalPatternMinFacts:    3,
		TemporalPatternWindowDays:  30,
		TemporalPatternTemperature: 0.3,
		TemporalPatternSearchLimit: 200,

		DreamMinFacts:        20,
		DreamClusterFactor:   3,
		DreamTemperature:     0.7,
		DreamEvalTemperature: 0.2,
		DreamInterval:        30 * time.Minute,

		RRFK:                          60,
		RRFOverfetchFactor:             4,
		EntityExpansionIDFFloor:        0.15,
		EntityExpansionMaxFacts:        30,
		EntityExpansionPerEntityLimit:  20,
		TemporalExpansionLimit:         10,
		TemporalExpansionBaseScore:     0.5,
		BundledDisplayLimit:            5,
		RecallStandaloneFactLimit:      20,

		BackoffCapMultiplier: 16,
	}
}
