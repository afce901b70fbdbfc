package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

type DocType string

const (
	DocTypeCoreRules DocType = "core-rules"
	DocTypeFAQ       DocType = "faq"
	DocTypeTeamRules DocType = "team-rules"
	DocTypeOps       DocType = "ops"
	DocTypeKillzone  DocType = "killzone"
)

const ShortIDLength = 8

type ChunkMetadata struct {
	SourceName      string    `json:"source_name"`
	DocType         DocType   `json:"doc_type"`
	PublicationDate time.Time `json:"publication_date"`
	Section         string    `json:"section,omitempty"`
	Team            string    `json:"team,omitempty"`
}

// DocumentChunk is a verbatim passage of a rule document. The fields after
// Metadata are attached per retrieval and never persisted.
type DocumentChunk struct {
	ChunkID       string        `json:"chunk_id"`
	DocumentID    string        `json:"document_id"`
	Text          string        `json:"text"`
	Header        string        `json:"header"`
	HeaderLevel   int           `json:"header_level"`
	PositionInDoc int           `json:"position_in_doc"`
	Metadata      ChunkMetadata `json:"metadata"`

	ShortID    string  `json:"short_id,omitempty"`
	Score      float64 `json:"score"`
	Relevance  float64 `json:"relevance"`
	DenseScore float64 `json:"dense_score,omitempty"`
	DenseRank  int     `json:"dense_rank,omitempty"`
	SparseRank int     `json:"sparse_rank,omitempty"`
	HopNumber  int     `json:"hop_number"`
}

// ShortIDFor returns the lowercase last 8 hex characters of a 128-bit chunk id.
// Hyphens of the canonical UUID form are ignored.
func ShortIDFor(chunkID string) string {
	hexID := strings.ToLower(strings.ReplaceAll(chunkID, "-", ""))
	if len(hexID) >= ShortIDLength && isHex(hexID[len(hexID)-ShortIDLength:]) {
		return hexID[len(hexID)-ShortIDLength:]
	}
	return rehashShortID(chunkID, 0)
}

// ShortIDSet hands out short ids that are unique across everything claimed
// so far. The zero value is not usable; use NewShortIDSet.
type ShortIDSet struct {
	owners map[string]string
	byID   map[string]string
}

func NewShortIDSet() *ShortIDSet {
	return &ShortIDSet{owners: make(map[string]string), byID: make(map[string]string)}
}

// Claim returns the short id of chunkID and whether the chunk was claimed
// before. A chunk whose natural short id belongs to another chunk gets a
// re-hashed one.
func (s *ShortIDSet) Claim(chunkID string) (string, bool) {
	if id, ok := s.byID[chunkID]; ok {
		return id, true
	}
	id := ShortIDFor(chunkID)
	for attempt := 1; ; attempt++ {
		if _, taken := s.owners[id]; !taken {
			break
		}
		id = rehashShortID(chunkID, attempt)
	}
	s.owners[id] = chunkID
	s.byID[chunkID] = id
	return id, false
}

// AssignShortIDs sets ShortID on every chunk so that ids are unique within the
// batch. Colliding chunks after the first one get a re-hashed id.
func AssignShortIDs(chunks []DocumentChunk) {
	set := NewShortIDSet()
	for i := range chunks {
		chunks[i].ShortID, _ = set.Claim(chunks[i].ChunkID)
	}
}

func rehashShortID(chunkID string, attempt int) string {
	sum := sha256.Sum256([]byte(chunkID + "#" + strconv.Itoa(attempt)))
	encoded := hex.EncodeToString(sum[:])
	return encoded[len(encoded)-ShortIDLength:]
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsValidShortID reports whether s has the short id wire format.
func IsValidShortID(s string) bool {
	return len(s) == ShortIDLength && isHex(s)
}
