// Package ethos defines the core data model shared across the memory
// service: sessions, episodic traces, semantic facts, memory vectors, and
// graph edges.
package ethos

import (
	"time"

	"github.com/google/uuid"
)

// Role is who produced a session event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole maps an arbitrary source string to a known [Role]. Unknown
// values map to [RoleUser] per the ingest payload contract.
func ParseRole(source string) Role {
	switch Role(source) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(source)
	default:
		return RoleUser
	}
}

// SessionEvent is a single append-only entry in a session's log.
type SessionEvent struct {
	ID        uuid.UUID
	SessionID string
	AgentID   string
	Role      Role
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// SourceType tags the union member a memory item belongs to.
type SourceType string

const (
	SourceEpisode  SourceType = "episode"
	SourceFact     SourceType = "fact"
	SourceWorkflow SourceType = "workflow"
	SourceQuery    SourceType = "query"
)

// EpisodicTrace is a single recorded turn, subject to decay and
// consolidation.
type EpisodicTrace struct {
	ID               uuid.UUID
	SessionID        string
	AgentID          string
	TurnIndex        int
	Role             Role
	Content          string
	CreatedAt        time.Time
	Importance       float64
	Salience         float64
	EmotionalTone    float64
	RetrievalCount   int
	LastRetrievedAt  *time.Time
	ConsolidatedAt   *time.Time
	Pruned           bool
	Topics           []string
	Entities         []string
}

// FactKind distinguishes the three categories of extracted fact.
type FactKind string

const (
	KindDecision   FactKind = "decision"
	KindPreference FactKind = "preference"
	KindFact       FactKind = "fact"
)

// SemanticFact is a subject-predicate-object triple abstracted from one or
// more episodes.
type SemanticFact struct {
	ID                uuid.UUID
	Kind              FactKind
	Statement         string
	Subject           string
	Predicate         string
	Object            string
	Confidence        float64
	Salience          float64
	SourceEpisodes    []uuid.UUID
	SourceAgent       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	RetrievalCount    int
	LastRetrievedAt   *time.Time
	SupersededBy      *uuid.UUID
	FlaggedForReview  bool
	Pruned            bool
}

// WorkflowMemory is structured procedural content. Not touched by the core
// retrieval/decay/consolidation subsystems.
type WorkflowMemory struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	Name        string
	Description string
	Content     map[string]any
	Metadata    map[string]any
}

// MemoryVector is the vector-search-eligible projection of a memory item.
// Vector may be nil, meaning "keyword-only until backfill" (see
// pkg/embedding's Outcome contract and pkg/reembed).
type MemoryVector struct {
	ID             uuid.UUID
	SourceType     SourceType
	SourceID       uuid.UUID
	Content        string
	Vector         []float32
	ModelName      string
	CreatedAt      time.Time
	LastAccessedAt *time.Time
	AccessCount    int
	Importance     float64
	ExpiresAt      *time.Time
	Pruned         bool
}

// GraphEdge is a directed, weighted similarity link between two memory
// items. The five-tuple (FromType, FromID, ToType, ToID, Relation) is the
// primary key; the linker always creates both directions.
type GraphEdge struct {
	FromType  SourceType
	FromID    uuid.UUID
	ToType    SourceType
	ToID      uuid.UUID
	Relation  string
	Weight    float64
	UpdatedAt time.Time
}

// Clamp01 clamps x to the closed interval [0, 1], as required of every
// salience and confidence value in the data model.
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
