// Package store provides the persistence layer for mnemo's memory records,
// fragments, association links and the entity-mention graph.
package store

import (
	"errors"
	"time"
)

// MemoryType classifies a memory on the forgetting curve.
type MemoryType string

const (
	// TypeEpisodic is a raw event memory; fades fastest.
	TypeEpisodic MemoryType = "episodic"

	// TypeSemantic is distilled pattern knowledge derived from episodes.
	TypeSemantic MemoryType = "semantic"

	// TypeProcedural is learned how-to knowledge.
	TypeProcedural MemoryType = "procedural"

	// TypeSelfModel is identity-level knowledge; fades slowest.
	TypeSelfModel MemoryType = "self_model"
)

// MemoryTypes lists all valid types in decay order (fastest-fading first).
var MemoryTypes = []MemoryType{TypeEpisodic, TypeSemantic, TypeProcedural, TypeSelfModel}

// ValidType reports whether t is a known memory type.
func ValidType(t MemoryType) bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeSelfModel:
		return true
	}
	return false
}

// Content bounds and decay limits.
const (
	MaxContentLen = 8000
	MaxSummaryLen = 500

	// MinDecay is the decay floor: memories fade toward it but are never
	// hard-deleted by decay alone.
	MinDecay = 0.1
)

// Memory is a single long-term memory record.
type Memory struct {
	ID               string                 `json:"id"`  // opaque collision-resistant hash id
	Seq              int64                  `json:"seq"` // numeric id (sqlite rowid)
	Type             MemoryType             `json:"type"`
	Content          string                 `json:"content"`
	Summary          string                 `json:"summary"`
	Tags             []string               `json:"tags,omitempty"`
	Concepts         []string               `json:"concepts,omitempty"`
	EmotionalValence float64                `json:"emotional_valence"` // [-1, 1]
	Importance       float64                `json:"importance"`        // [0, 1]
	AccessCount      int                    `json:"access_count"`
	Source           string                 `json:"source,omitempty"`
	SourceID         string                 `json:"source_id,omitempty"`
	RelatedUser      string                 `json:"related_user,omitempty"`
	RelatedWallet    string                 `json:"related_wallet,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	LastAccessed     time.Time              `json:"last_accessed"`
	DecayFactor      float64                `json:"decay_factor"` // [MinDecay, 1]
	EvidenceIDs      []string               `json:"evidence_ids,omitempty"`
	Compacted        bool                   `json:"compacted"`
	CompactedInto    string                 `json:"compacted_into,omitempty"`
	Embedding        []float32              `json:"-"`
}

// MemorySummary is a lightweight projection for progressive disclosure.
// Full content is fetched later via GetByIDs for the ids the caller keeps.
type MemorySummary struct {
	ID          string     `json:"id"`
	Type        MemoryType `json:"type"`
	Summary     string     `json:"summary"`
	Tags        []string   `json:"tags,omitempty"`
	Importance  float64    `json:"importance"`
	DecayFactor float64    `json:"decay_factor"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FragmentType classifies a sub-memory fragment.
type FragmentType string

const (
	FragmentSummary      FragmentType = "summary"
	FragmentContentChunk FragmentType = "content_chunk"
	FragmentTagContext   FragmentType = "tag_context"
)

// Fragment is a child of a Memory carrying its own embedding, giving
// retrieval precision beyond one embedding per memory.
type Fragment struct {
	ID        string       `json:"id"`
	MemoryID  string       `json:"memory_id"`
	Type      FragmentType `json:"fragment_type"`
	Content   string       `json:"content"`
	Embedding []float32    `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// LinkType is the bond type of a directed association edge.
type LinkType string

const (
	LinkFollows     LinkType = "follows"
	LinkRelates     LinkType = "relates"
	LinkElaborates  LinkType = "elaborates"
	LinkContradicts LinkType = "contradicts"
	LinkSupports    LinkType = "supports"
	LinkCauses      LinkType = "causes"
)

// ValidLinkType reports whether t is a known link type.
func ValidLinkType(t LinkType) bool {
	switch t {
	case LinkFollows, LinkRelates, LinkElaborates, LinkContradicts, LinkSupports, LinkCauses:
		return true
	}
	return false
}

// Link is a directed, typed, weighted edge between two memories.
// The edge table is keyed by (source, target, type): creating the same
// link twice strengthens it rather than duplicating it.
type Link struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      LinkType  `json:"link_type"`
	Strength  float64   `json:"strength"` // [0, 1]
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkedMemory is a traversal result: a neighbor reached over a link.
type LinkedMemory struct {
	MemoryID string   `json:"memory_id"`
	SeedID   string   `json:"seed_id"`
	Type     LinkType `json:"link_type"`
	Strength float64  `json:"strength"`
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityPerson   EntityType = "person"
	EntityProject  EntityType = "project"
	EntityConcept  EntityType = "concept"
	EntityToken    EntityType = "token"
	EntityWallet   EntityType = "wallet"
	EntityLocation EntityType = "location"
	EntityEvent    EntityType = "event"
)

// Entity is a deduplicated named thing mentioned across memories.
type Entity struct {
	ID             string     `json:"id"`
	Type           EntityType `json:"entity_type"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"` // dedup key
	Aliases        []string   `json:"aliases,omitempty"`
	MentionCount   int        `json:"mention_count"`
	Embedding      []float32  `json:"-"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
}

// EntityMention ties an entity to a memory with a salience weight.
// Upsert keyed by (entity_id, memory_id).
type EntityMention struct {
	EntityID string  `json:"entity_id"`
	MemoryID string  `json:"memory_id"`
	Context  string  `json:"context,omitempty"`
	Salience float64 `json:"salience"` // [0, 1]
}

// EntityRelation is a typed edge between two entities. Strength only
// increases (capped at 1) as evidence accrues; self-relations are rejected.
type EntityRelation struct {
	SourceEntityID string   `json:"source_entity_id"`
	TargetEntityID string   `json:"target_entity_id"`
	Type           string   `json:"relation_type"`
	Strength       float64  `json:"strength"`
	EvidenceIDs    []string `json:"evidence_ids,omitempty"`
}

// Cooccurrence is a co-mention aggregate for one entity relative to another.
type Cooccurrence struct {
	EntityID     string `json:"entity_id"`
	SharedCount  int    `json:"shared_count"`
	MentionCount int    `json:"mention_count"`
}

// Stats summarizes the state of the memory store.
type Stats struct {
	TotalMemories  int64            `json:"total_memories"`
	ByType         map[string]int64 `json:"by_type"`
	TotalLinks     int64            `json:"total_links"`
	TotalEntities  int64            `json:"total_entities"`
	TotalFragments int64            `json:"total_fragments"`
	AvgImportance  float64          `json:"avg_importance"`
	AvgDecayFactor float64          `json:"avg_decay_factor"`
}

// DreamSession logs one phase of the consolidation pipeline, linking the
// memories it read to the memories it wrote.
type DreamSession struct {
	ID        string    `json:"id"`
	Phase     string    `json:"phase"` // consolidation, reflection, emergence
	InputIDs  []string  `json:"input_ids,omitempty"`
	OutputIDs []string  `json:"output_ids,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryFilter selects memories on metadata alone (no scoring).
type QueryFilter struct {
	Types         []MemoryType
	RelatedUser   string
	RelatedWallet string
	MinImportance float64
	Tags          []string // any-overlap
	MinDecay      float64  // defaults to MinDecay when zero
	Limit         int
}

// KnowledgeGraph is a read-only projection of entities and their relations
// for visualization. No side effects.
type KnowledgeGraph struct {
	Nodes []Entity         `json:"nodes"`
	Edges []EntityRelation `json:"edges"`
}

// Sentinel errors for the store surface.
var (
	ErrMemoryNotFound = errors.New("memory not found")
	ErrEntityNotFound = errors.New("entity not found")
	ErrSelfLink       = errors.New("memory cannot link to itself")
	ErrSelfRelation   = errors.New("entity cannot relate to itself")
)
