package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"solstep-cli/metrics"
)

const (
	dbFileName    = "solstep.json"
	configDirName = ".config/solstep"
	jsonBackend   = "json"
)

// jsonDocument is the on-disk layout of the JSON store.
type jsonDocument struct {
	Challenges map[string]ChallengeMetadata   `json:"challenges"`
	Progress   map[string]ParticipantProgress `json:"challengeProgress"`
}

// JSONDB is a single-file store for local use. It is safe for concurrent use
// within one process only.
type JSONDB struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*JSONDB)(nil)

// Connect opens the JSON store at path, creating it if needed. An empty path
// means the default location under the user's config directory.
func Connect(path string) (*JSONDB, error) {
	if path == "" {
		var err error
		if path, err = DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("could not get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	db := &JSONDB{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := db.write(&jsonDocument{}); err != nil {
			return nil, fmt.Errorf("could not create db file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("could not stat db file: %w", err)
	}
	return db, nil
}

// DefaultDBPath returns e.g. /home/user/.config/solstep/solstep.json.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %w", err)
	}
	return filepath.Join(home, configDirName, dbFileName), nil
}

func (db *JSONDB) read() (*jsonDocument, error) {
	data, err := os.ReadFile(db.path)
	if err != nil {
		return nil, fmt.Errorf("could not read db file: %w", err)
	}
	doc := &jsonDocument{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("could not parse db file: %w", err)
		}
	}
	if doc.Challenges == nil {
		doc.Challenges = make(map[string]ChallengeMetadata)
	}
	if doc.Progress == nil {
		doc.Progress = make(map[string]ParticipantProgress)
	}
	return doc, nil
}

// write replaces the file atomically.
func (db *JSONDB) write(doc *jsonDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal db: %w", err)
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("could not write db file: %w", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return fmt.Errorf("could not replace db file: %w", err)
	}
	return nil
}

// view runs fn against a fresh read of the file.
func (db *JSONDB) view(op string, fn func(doc *jsonDocument) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	doc, err := db.read()
	if err == nil {
		err = fn(doc)
	}
	observe(jsonBackend, op, err)
	return err
}

// update runs fn and persists the document if fn succeeds.
func (db *JSONDB) update(op string, fn func(doc *jsonDocument) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	doc, err := db.read()
	if err == nil {
		err = fn(doc)
	}
	if err == nil {
		err = db.write(doc)
	}
	observe(jsonBackend, op, err)
	return err
}

func (db *JSONDB) PutMetadata(_ context.Context, m ChallengeMetadata) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return db.update("put_metadata", func(doc *jsonDocument) error {
		if _, ok := doc.Challenges[m.Challenge]; ok {
			for key, p := range doc.Progress {
				if p.Challenge == m.Challenge {
					delete(doc.Progress, key)
				}
			}
		}
		doc.Challenges[m.Challenge] = m
		return nil
	})
}

func (db *JSONDB) GetMetadata(_ context.Context, challenge string) (*ChallengeMetadata, error) {
	var out *ChallengeMetadata
	err := db.view("get_metadata", func(doc *jsonDocument) error {
		m, ok := doc.Challenges[challenge]
		if !ok {
			return fmt.Errorf("challenge %s: %w", challenge, ErrNotFound)
		}
		out = &m
		return nil
	})
	return out, err
}

func (db *JSONDB) ListMetadata(_ context.Context) ([]ChallengeMetadata, error) {
	var out []ChallengeMetadata
	err := db.view("list_metadata", func(doc *jsonDocument) error {
		for _, m := range doc.Challenges {
			out = append(out, m)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Challenge < out[j].Challenge
	})
	return out, err
}

func (db *JSONDB) CountCreatedSince(_ context.Context, organizer string, since time.Time) (int, error) {
	count := 0
	err := db.view("count_created", func(doc *jsonDocument) error {
		for _, m := range doc.Challenges {
			if m.Organizer == organizer && m.Status != StatusPending && !m.CreatedAt.Before(since) {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (db *JSONDB) SetWinner(_ context.Context, challenge, winner string) error {
	return db.update("set_winner", func(doc *jsonDocument) error {
		m, ok := doc.Challenges[challenge]
		if !ok {
			return fmt.Errorf("challenge %s: %w", challenge, ErrNotFound)
		}
		if m.Winner != "" {
			return fmt.Errorf("challenge %s: %w", challenge, ErrWinnerAlreadySet)
		}
		m.Winner = winner
		m.Status = StatusCompleted
		doc.Challenges[challenge] = m
		return nil
	})
}

func (db *JSONDB) SetStatus(_ context.Context, challenge, status string) error {
	return db.update("set_status", func(doc *jsonDocument) error {
		m, ok := doc.Challenges[challenge]
		if !ok {
			return fmt.Errorf("challenge %s: %w", challenge, ErrNotFound)
		}
		m.Status = status
		doc.Challenges[challenge] = m
		return nil
	})
}

func (db *JSONDB) GetProgress(_ context.Context, challenge, participant string) (*ParticipantProgress, error) {
	var out *ParticipantProgress
	err := db.view("get_progress", func(doc *jsonDocument) error {
		p, ok := doc.Progress[ProgressKey(challenge, participant)]
		if !ok {
			return fmt.Errorf("progress %s: %w", ProgressKey(challenge, participant), ErrNotFound)
		}
		out = &p
		return nil
	})
	return out, err
}

func (db *JSONDB) ListProgress(_ context.Context, challenge string) (map[string]ParticipantProgress, error) {
	out := make(map[string]ParticipantProgress)
	err := db.view("list_progress", func(doc *jsonDocument) error {
		for _, p := range doc.Progress {
			if p.Challenge == challenge {
				out[p.Participant] = p
			}
		}
		return nil
	})
	return out, err
}

func (db *JSONDB) ListProgressByParticipant(_ context.Context, participant string) ([]ParticipantProgress, error) {
	var out []ParticipantProgress
	err := db.view("list_progress_by_participant", func(doc *jsonDocument) error {
		for _, p := range doc.Progress {
			if p.Participant == participant {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Challenge < out[j].Challenge })
	return out, err
}

func (db *JSONDB) SaveProgress(_ context.Context, p ParticipantProgress) error {
	if p.Challenge == "" || p.Participant == "" {
		return fmt.Errorf("%w: progress needs a challenge and a participant", ErrInvalidRecord)
	}
	if p.SpotsCaptured == nil {
		p.SpotsCaptured = []string{}
	}
	return db.update("save_progress", func(doc *jsonDocument) error {
		doc.Progress[ProgressKey(p.Challenge, p.Participant)] = p
		return nil
	})
}

// Close is a no-op; the file is opened per operation.
func (db *JSONDB) Close() error {
	return nil
}

func observe(backend, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(backend, op, status).Inc()
}
