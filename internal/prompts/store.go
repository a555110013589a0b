// Package prompts manages versioned system prompts for the pipeline
// agents. Each agent has a list of versions and exactly one active
// version; metadata lives in versions.json and prompt text in one file
// per version. Every mutation is written through immediately so a crash
// never leaves a half-applied change.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

//go:embed defaults/*.txt
var defaultPrompts embed.FS

// Agent identifies a pipeline agent. The set is fixed; the calibration
// stage reuses AgentPrimary.
type Agent string

// Known agents.
const (
	AgentPrimary   Agent = "primary_agent"
	AgentChallenge Agent = "challenge_agent"
	AgentDecision  Agent = "decision_agent"
)

// Agents lists every known agent, in pipeline order.
func Agents() []Agent {
	return []Agent{AgentPrimary, AgentChallenge, AgentDecision}
}

// Valid reports whether a is a known agent.
func (a Agent) Valid() bool {
	switch a {
	case AgentPrimary, AgentChallenge, AgentDecision:
		return true
	}
	return false
}

// VersionMeta describes one stored prompt version without its content.
type VersionMeta struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Notes     string    `json:"notes"`
	File      string    `json:"file"`
}

// Version is a stored prompt version with its content.
type Version struct {
	VersionMeta
	Content string `json:"content"`
}

// agentEntry is the on-disk metadata for one agent.
type agentEntry struct {
	ActiveVersion int           `json:"active_version"`
	Versions      []VersionMeta `json:"versions"`
}

// Store is a file-backed versioned prompt store.
type Store struct {
	dir string
	mu  sync.Mutex
}

const versionsFile = "versions.json"

// NewStore opens (or initializes) a prompt store rooted at dir. When no
// versions.json exists, version 1 of every agent is seeded from the
// prompts embedded in the binary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating prompts dir %s: %w", dir, err)
	}

	s := &Store{dir: dir}

	if _, err := os.Stat(filepath.Join(dir, versionsFile)); os.IsNotExist(err) {
		if err := s.seed(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking %s: %w", versionsFile, err)
	}

	return s, nil
}

// seed writes version 1 for every agent from the embedded defaults.
func (s *Store) seed() error {
	data := make(map[Agent]*agentEntry, len(Agents()))
	now := time.Now()

	for _, agent := range Agents() {
		content, err := defaultPrompts.ReadFile(fmt.Sprintf("defaults/%s.txt", agent))
		if err != nil {
			return fmt.Errorf("reading embedded default for %s: %w", agent, err)
		}

		filename := fmt.Sprintf("%s_v1.txt", agent)
		if err := s.writeFileSync(filename, content); err != nil {
			return err
		}

		data[agent] = &agentEntry{
			ActiveVersion: 1,
			Versions: []VersionMeta{{
				Version:   1,
				CreatedAt: now,
				Notes:     "Initial version",
				File:      filename,
			}},
		}
	}

	return s.saveVersions(data)
}

// Active returns the active prompt text for an agent.
func (s *Store) Active(agent Agent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return "", err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return "", err
	}

	for _, v := range entry.Versions {
		if v.Version == entry.ActiveVersion {
			return s.readContent(v.File)
		}
	}
	return "", &NotFoundError{Agent: agent, Version: entry.ActiveVersion}
}

// GetVersion returns one version with its content.
func (s *Store) GetVersion(agent Agent, version int) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return nil, err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return nil, err
	}

	for _, v := range entry.Versions {
		if v.Version == version {
			content, err := s.readContent(v.File)
			if err != nil {
				return nil, err
			}
			return &Version{VersionMeta: v, Content: content}, nil
		}
	}
	return nil, &NotFoundError{Agent: agent, Version: version}
}

// ListVersions returns all version metadata for an agent plus the active
// version number.
func (s *Store) ListVersions(agent Agent) ([]VersionMeta, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return nil, 0, err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return nil, 0, err
	}

	metas := make([]VersionMeta, len(entry.Versions))
	copy(metas, entry.Versions)
	return metas, entry.ActiveVersion, nil
}

// CreateVersion stores a new prompt version and returns its number.
// Version numbers are max(existing)+1 and never reused, even after the
// highest version is deleted and recreated within this call sequence.
func (s *Store) CreateVersion(agent Agent, content, notes string, activate bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return 0, err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return 0, err
	}

	newVersion := 1
	for _, v := range entry.Versions {
		if v.Version >= newVersion {
			newVersion = v.Version + 1
		}
	}

	filename := fmt.Sprintf("%s_v%d.txt", agent, newVersion)
	if err := s.writeFileSync(filename, []byte(content)); err != nil {
		return 0, err
	}

	entry.Versions = append(entry.Versions, VersionMeta{
		Version:   newVersion,
		CreatedAt: time.Now(),
		Notes:     notes,
		File:      filename,
	})
	if activate {
		entry.ActiveVersion = newVersion
	}

	if err := s.saveVersions(data); err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Activate marks an existing version as active.
func (s *Store) Activate(agent Agent, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return err
	}

	found := false
	for _, v := range entry.Versions {
		if v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return &NotFoundError{Agent: agent, Version: version}
	}

	entry.ActiveVersion = version
	return s.saveVersions(data)
}

// Delete removes a version. The active version cannot be deleted.
func (s *Store) Delete(agent Agent, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadVersions()
	if err != nil {
		return err
	}
	entry, err := lookupAgent(data, agent)
	if err != nil {
		return err
	}

	if version == entry.ActiveVersion {
		return &InvalidOperationError{Reason: fmt.Sprintf("cannot delete active version %d of %s", version, agent)}
	}

	idx := -1
	for i, v := range entry.Versions {
		if v.Version == version {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &NotFoundError{Agent: agent, Version: version}
	}

	// Remove the content file best-effort; metadata is authoritative.
	_ = os.Remove(filepath.Join(s.dir, entry.Versions[idx].File))

	entry.Versions = append(entry.Versions[:idx], entry.Versions[idx+1:]...)
	return s.saveVersions(data)
}

func lookupAgent(data map[Agent]*agentEntry, agent Agent) (*agentEntry, error) {
	if !agent.Valid() {
		return nil, &NotFoundError{Agent: agent}
	}
	entry, ok := data[agent]
	if !ok {
		return nil, &NotFoundError{Agent: agent}
	}
	return entry, nil
}

func (s *Store) loadVersions() (map[Agent]*agentEntry, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, versionsFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", versionsFile, err)
	}

	var data map[Agent]*agentEntry
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", versionsFile, err)
	}
	return data, nil
}

func (s *Store) saveVersions(data map[Agent]*agentEntry) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", versionsFile, err)
	}
	return s.writeFileSync(versionsFile, raw)
}

// writeFileSync writes and fsyncs a file under the store directory.
func (s *Store) writeFileSync(name string, content []byte) error {
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	return f.Close()
}

func (s *Store) readContent(file string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		return "", fmt.Errorf("reading prompt file %s: %w", file, err)
	}
	return string(raw), nil
}
