package memory

import (
	"context"
	"time"
)

// FactType enumerates the kind of assertion a Fact represents.
type FactType string

// World is the default FactType for assertions about the world at large;
// callers may define additional domain-specific variants.
const World FactType = "world"

// Fact is an atomic textual assertion.
type Fact struct {
	ID              int64
	Text            string
	FactType        FactType
	Embedding       []float32 // nil if not yet embedded; L2-normalized, length EmbeddingDim
	SourceType      string    // e.g. "explicit", "chat", "source"
	SourceRef       string    // optional pointer into external corpora
	CreatedAt       time.Time
	HappenedAt      *time.Time // optional event time
	LastAccessedAt  time.Time
	AccessCount     int
	ConsolidatedAt  *time.Time // nil ⇒ unconsolidated
}

// Entity is a canonical identity referenced by facts.
type Entity struct {
	ID         int64
	Name       string // case-insensitive unique per (Name, EntityType)
	EntityType string
	Embedding  []float32 // embeds the canonical string "<name> (<type>)"
	IsCore     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntityRef is a fact-to-entity edge produced by extraction and resolution.
type EntityRef struct {
	ID          int64
	FactID      int64
	Name        string
	EntityType  string
	CanonicalID *int64 // resolved Entity id, if any
}

// FactLinkType enumerates the kinds of edges between two facts.
type FactLinkType string

const (
	LinkTemporal FactLinkType = "temporal"
	LinkSemantic FactLinkType = "semantic"
	LinkEntity   FactLinkType = "entity"
)

// FactLink is a weighted edge between two facts.
type FactLink struct {
	ID           int64
	SourceFactID int64
	TargetFactID int64
	LinkType     FactLinkType
	Weight       float64 // (0,1]
	CreatedAt    time.Time
}

// HistoryEntry records one mutation in an Observation's evolution.
type HistoryEntry struct {
	PreviousText   string
	Timestamp      time.Time
	Reason         string
	TriggeringFact int64
	// AbsorbedText is set only when this entry records an observation
	// merge; it holds the summary of the observation that was absorbed.
	// Omitted from JSON serialization when empty.
	AbsorbedText string `json:",omitempty"`
}

// Observation is a synthesized, higher-level statement distilled from one
// or more facts. It evolves in place; History is append-only.
type Observation struct {
	ID             int64
	Summary        string
	Embedding      []float32
	EvidenceCount  int // must equal len(SourceFactIDs)
	SourceFactIDs  []int64
	History        []HistoryEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
}

// Dream is a cross-cluster insight: a structural bridge between two topics
// plus the novel claim ("insight") it licenses.
type Dream struct {
	ID            int64
	Bridge        string
	Insight       string
	SourceFactIDs []int64
	Embedding     []float32
	CreatedAt     time.Time
}

// FactContext is the return type of Recall.
type FactContext struct {
	Facts          []Fact
	Observations   []Observation
	BundledSources map[int64][]Fact // observation id -> most recent supporting facts
}

// TemporalCheckpoint ensures an entity's time window is mined at most once
// per window end date (the UTC day of the pass), however many passes run.
type TemporalCheckpoint struct {
	EntityID      int64
	WindowEndDate time.Time
	ProcessedAt   time.Time
}

// RememberResult is returned by Facade.Remember.
type RememberResult struct {
	Fact              Fact
	LinksCreated      int
	EntitiesExtracted []string
}

// FactStore is the CRUD + search contract for facts, entities, entity
// references, and fact links (spec §4.2).
type FactStore interface {
	Create(ctx context.Context, f Fact) (Fact, error)
	Get(ctx context.Context, id int64) (*Fact, error)
	GetBatch(ctx context.Context, ids []int64) (map[int64]Fact, error)
	ListRecent(ctx context.Context, limit int) ([]Fact, error)
	ListInTimeWindow(ctx context.Context, start, end time.Time) ([]Fact, error)
	ListUnconsolidated(ctx context.Context, limit int) ([]Fact, error)
	ListAllWithEmbeddings(ctx context.Context) ([]Fact, error)
	MarkConsolidated(ctx context.Context, id int64) error
	UpdateText(ctx context.Context, id int64, newText string, newEmbedding []float32) error
	Reinforce(ctx context.Context, ids []int64) error
	Delete(ctx context.Context, id int64) error
	MergeFacts(ctx context.Context, keeperID, removedID int64, mergedText string, mergedEmbedding []float32) error

	AddEntityRef(ctx context.Context, factID int64, name, entityType string, canonicalID *int64) (EntityRef, error)
	GetEntityRefs(ctx context.Context, factID int64) ([]EntityRef, error)
	GetEntityRefsBatch(ctx context.Context, factIDs []int64) (map[int64][]EntityRef, error)
	GetFactsForEntity(ctx context.Context, name string, limit int) ([]Fact, error)
	GetFactsForEntityID(ctx context.Context, entityID int64, limit int) ([]Fact, error)
	GetFactsSharingEntities(ctx context.Context, factID int64, limit int, excludeNames []string) ([]FactSharedEntities, error)

	CreateLink(ctx context.Context, source, target int64, linkType FactLinkType, weight float64) error
	GetLinks(ctx context.Context, factID int64) ([]FactLink, error)
	GetLinksByType(ctx context.Context, factID int64, linkType FactLinkType) ([]FactLink, error)
	LinkCount(ctx context.Context) (int64, error)

	CreateEntity(ctx context.Context, name, entityType string, embedding []float32, isCore bool) (Entity, error)
	GetEntityByName(ctx context.Context, name, entityType string) (*Entity, error)
	ListAllEntities(ctx context.Context, limit int) ([]Entity, error)
	ListEntitiesByType(ctx context.Context, entityType string, limit int) ([]Entity, error)
	MergeEntities(ctx context.Context, keepID int64, mergeIDs []int64) (int, error)
	GetEntityIDsForFacts(ctx context.Context, factIDs []int64) (map[int64][]int64, error)
	CountEntityFactsByID(ctx context.Context, entityID int64) (int, error)
	CleanupOrphanedEntities(ctx context.Context) (int, error)

	SearchFactsVector(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredFact, error)
	SearchFactsFTS(ctx context.Context, query string, limit int) ([]Fact, error)
	SearchEntitiesVector(ctx context.Context, embedding []float32, limit int) ([]ScoredEntity, error)
	SearchFactsTemporal(ctx context.Context, queryTime time.Time, overfetch int) ([]Fact, error)

	GetEntitySourceOverlap(ctx context.Context, name, sourceRef string) (bool, error)
	GetEntityLastMention(ctx context.Context, name string) (*time.Time, error)

	Count(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
}

// FactSharedEntities pairs a fact with the number of entities it shares
// with some reference fact.
type FactSharedEntities struct {
	Fact        Fact
	SharedCount int
}

// ScoredFact pairs a fact with a similarity or ranking score.
type ScoredFact struct {
	Fact  Fact
	Score float64
}

// ScoredEntity pairs an entity with a similarity score.
type ScoredEntity struct {
	Entity Entity
	Score  float64
}

// ObservationStore is the CRUD + search contract for observations (§4.3).
type ObservationStore interface {
	Create(ctx context.Context, summary string, embedding []float32, sourceFactID *int64) (Observation, error)
	Update(ctx context.Context, id int64, summary string, embedding []float32, newFactID *int64, reason string) error
	UpdateSummary(ctx context.Context, id int64, summary string, embedding []float32) error
	AddSourceFacts(ctx context.Context, id int64, factIDs []int64) error
	Reinforce(ctx context.Context, ids []int64) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Observation, error)
	GetBatch(ctx context.Context, ids []int64) (map[int64]Observation, error)
	ListRecent(ctx context.Context, limit int) ([]Observation, error)
	ListAllWithEmbeddings(ctx context.Context) ([]Observation, error)
	Count(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	Merge(ctx context.Context, keeperID, removedID int64, mergedText string, embedding []float32, reason string) error
	RewriteSourceFact(ctx context.Context, oldFactID, newFactID int64) error

	SearchVector(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredObservation, error)
	SearchFTS(ctx context.Context, query string, limit int) ([]Observation, error)
}

// ScoredObservation pairs an observation with a similarity or ranking score.
type ScoredObservation struct {
	Observation Observation
	Score       float64
}

// DreamStore is plain CRUD over dreams plus two novelty-check helpers (§4.4).
type DreamStore interface {
	Create(ctx context.Context, bridge, insight string, sourceFactIDs []int64, embedding []float32) (Dream, error)
	Get(ctx context.Context, id int64) (*Dream, error)
	ListRecent(ctx context.Context, limit int) ([]Dream, error)
	LastCreatedAt(ctx context.Context) (*time.Time, error)
	RecentEmbeddings(ctx context.Context, limit int) ([][]float32, error)
	Count(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
}

// TemporalCheckpointStore records which (entity, window) pairs have been
// mined by the temporal-pattern-mining pass (§4.8.3).
type TemporalCheckpointStore interface {
	IsProcessed(ctx context.Context, entityID int64, windowEnd time.Time) (bool, error)
	MarkProcessed(ctx context.Context, entityID int64, windowEnd time.Time) error
}

// Embedder produces L2-normalized vector embeddings for text (§6).
type Embedder interface {
	// Embed returns one normalized vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne is a convenience wrapper around Embed for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ChatMessage is one turn in a language-model conversation.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Generator is the language-model provider contract (§6). When schema is
// non-nil, Complete must return a JSON instance of that schema; response
// parsing into domain structs happens at the call site.
type Generator interface {
	Complete(ctx context.Context, model string, messages []ChatMessage, schema any, temperature float64) (string, error)
}

// Reranker is an optional external cross-encoder (§4.9, §6). Rerank returns
// (original index, relevance score) pairs, not necessarily covering every
// document. Failure of any kind must be signaled by returning a nil/empty
// slice and a nil error — the pipeline treats "no results" as "use the
// fallback scoring," not as an error to propagate.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)
}

// RerankResult is one scored document from a Reranker call.
type RerankResult struct {
	Index int
	Score float64
}
