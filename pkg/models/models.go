package models

import "time"

// RepoStatus enumerates the lifecycle states of a repository record.
type RepoStatus string

const (
	StatusQueued    RepoStatus = "queued"
	StatusFetching  RepoStatus = "fetching"
	StatusEmbedding RepoStatus = "embedding"
	StatusReady     RepoStatus = "ready"
	StatusFailed    RepoStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RepoStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// InProgress reports whether an ingestion run owns the record.
func (s RepoStatus) InProgress() bool {
	return s == StatusQueued || s == StatusFetching || s == StatusEmbedding
}

// Repository is the record tracked for each ingested repository. It is
// written only by the ingestion pipeline and read by everything else.
type Repository struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Description  string     `json:"description,omitempty"`
	Language     string     `json:"language,omitempty"`
	Status       RepoStatus `json:"status"`
	Progress     int        `json:"progress"`
	Error        string     `json:"error,omitempty"`
	SkippedFiles []string   `json:"skipped_files,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	// UpdatedAt is stamped on every ingestion save; a record stuck in an
	// in-progress status with an old UpdatedAt belongs to a dead run.
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the owner/name form used in prompts and logs.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Chunk is a bounded slice of one file's text plus its embedding. Identity is
// (repo id, path, index); chunks are immutable once written.
type Chunk struct {
	RepoID    string    `json:"repo_id"`
	Path      string    `json:"path"`
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// ScoredChunk pairs a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Chat is a conversation thread bound to one repository.
type Chat struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat. User messages may carry a code snippet;
// assistant messages carry the source file paths backing the answer.
type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	CodeSnippet string    `json:"code_snippet,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
