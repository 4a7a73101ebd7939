package speaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/live-translate-lab/internal/fsio"
	"github.com/live-translate-lab/internal/logging"
)

// PrimaryID is the fixed registry id of the device owner. Enrolling the
// primary speaker again replaces this entry rather than adding a new one.
const PrimaryID = "speaker_0"

// MatchThreshold is the cosine similarity a candidate must strictly exceed
// to be identified. A score of exactly the threshold is not a match.
const MatchThreshold = 0.7

// UnknownName is reported when no enrolled speaker matches.
const UnknownName = "Unknown"

const indexFile = "index.json"

// Identification is the result of matching a voiceprint against the
// registry. An empty SpeakerID means no enrolled speaker matched.
type Identification struct {
	SpeakerID  string
	Name       string
	Confidence float64
	IsUser     bool
}

// Known reports whether the identification matched an enrolled speaker.
func (id Identification) Known() bool { return id.SpeakerID != "" }

// Info is a public snapshot of one registry entry.
type Info struct {
	ID     string `json:"speaker_id"`
	Name   string `json:"name"`
	IsUser bool   `json:"is_user"`
}

type indexEntry struct {
	Name          string `json:"name"`
	EmbeddingFile string `json:"embedding_file"`
	IsUser        bool   `json:"is_user"`
}

type record struct {
	name      string
	isUser    bool
	embedding Embedding
}

// Registry is the persistent speaker store: an index document plus one
// vector file per speaker under a single directory. All methods are safe
// for concurrent use.
type Registry struct {
	dir string

	mu      sync.Mutex
	entries map[string]*record
}

// OpenRegistry loads (or initializes) the registry rooted at dir. Entries
// whose vector file is missing or unreadable are skipped with a warning so
// one corrupt file cannot take down the whole registry.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	r := &Registry{dir: dir, entries: make(map[string]*record)}

	raw, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry index: %w", err)
	}

	var index map[string]indexEntry
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parse registry index: %w", err)
	}
	for id, e := range index {
		emb, err := loadEmbedding(filepath.Join(dir, e.EmbeddingFile))
		if err != nil {
			logging.Warnw("registry: skipping entry with unreadable embedding",
				"speaker_id", id, "file", e.EmbeddingFile, "err", err)
			continue
		}
		r.entries[normalizeID(id)] = &record{name: e.Name, isUser: e.IsUser, embedding: emb}
	}
	logging.Infow("registry: loaded", "dir", dir, "speakers", len(r.entries))
	return r, nil
}

// Len returns the number of enrolled speakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Empty reports whether no speakers are enrolled.
func (r *Registry) Empty() bool { return r.Len() == 0 }

// Enroll stores a voiceprint under a new id, or under PrimaryID when
// primary is set, replacing any previous primary voiceprint. The vector
// file is persisted before the index so a crash between the two leaves a
// stray vector rather than a dangling index entry.
func (r *Registry) Enroll(name string, primary bool, emb Embedding) (string, error) {
	if len(emb) == 0 {
		return "", fmt.Errorf("enroll %q: empty embedding", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := PrimaryID
	if !primary {
		id = r.nextIDLocked()
	}
	if err := fsio.SaveFileAtomic(filepath.Join(r.dir, id+".vec"), encodeEmbedding(emb), 0o644); err != nil {
		return "", fmt.Errorf("persist embedding: %w", err)
	}
	r.entries[id] = &record{name: name, isUser: primary, embedding: append(Embedding(nil), emb...)}
	if err := r.saveIndexLocked(); err != nil {
		return "", err
	}
	logging.Infow("registry: speaker enrolled", logging.SpeakerFields(id, name)...)
	return id, nil
}

// Identify returns the best match strictly above MatchThreshold, or an
// unknown identification carrying the best score seen. Ties are broken by
// id order, smallest first, so results are deterministic.
func (r *Registry) Identify(emb Embedding) Identification {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := Identification{Name: UnknownName}
	for _, id := range r.sortedIDsLocked() {
		score := Cosine(emb, r.entries[id].embedding)
		if score > best.Confidence {
			best.Confidence = score
			if score > MatchThreshold {
				best.SpeakerID = id
				best.Name = r.entries[id].name
				best.IsUser = r.entries[id].isUser
			} else {
				best.SpeakerID = ""
				best.Name = UnknownName
				best.IsUser = false
			}
		}
	}
	return best
}

// Delete removes a speaker and its vector file. Removing the vector fails
// soft: the index update is what makes the deletion durable.
func (r *Registry) Delete(id string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(r.entries, id)
	if err := r.saveIndexLocked(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(r.dir, id+".vec")); err != nil && !os.IsNotExist(err) {
		logging.Warnw("registry: could not remove embedding file", "speaker_id", id, "err", err)
	}
	logging.Infow("registry: speaker deleted", "speaker_id", id)
	return nil
}

// Rename updates a speaker's display name.
func (r *Registry) Rename(id, name string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("rename %s: %w", id, ErrNotFound)
	}
	rec.name = name
	if err := r.saveIndexLocked(); err != nil {
		return err
	}
	logging.Infow("registry: speaker renamed", logging.SpeakerFields(id, name)...)
	return nil
}

// List returns a snapshot of all enrolled speakers in id order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for _, id := range r.sortedIDsLocked() {
		rec := r.entries[id]
		out = append(out, Info{ID: id, Name: rec.name, IsUser: rec.isUser})
	}
	return out
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// nextIDLocked allocates the smallest unused speaker_N with N >= 1;
// speaker_0 is reserved for the primary.
func (r *Registry) nextIDLocked() string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("speaker_%d", n)
		if _, ok := r.entries[id]; !ok {
			return id
		}
	}
}

func (r *Registry) saveIndexLocked() error {
	index := make(map[string]indexEntry, len(r.entries))
	for id, rec := range r.entries {
		index[id] = indexEntry{Name: rec.name, EmbeddingFile: id + ".vec", IsUser: rec.isUser}
	}
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry index: %w", err)
	}
	if err := fsio.SaveFileAtomic(filepath.Join(r.dir, indexFile), raw, 0o644); err != nil {
		return fmt.Errorf("persist registry index: %w", err)
	}
	return nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
