// Package voicestore owns voice metadata and reference audio on disk.
//
// Builtin voices are bare *.wav files in a read-only directory bundled with
// the image. Custom voices live under a writable directory, one
// subdirectory per voice holding voice.json and sample.wav.
package voicestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibevoice-community/vibevoice-server/internal/audio"
)

type Type string

const (
	TypeBuiltin Type = "builtin"
	TypeCustom  Type = "custom"
)

var (
	ErrNotFound      = errors.New("voice not found")
	ErrBuiltinVoice  = errors.New("builtin voices cannot be deleted")
	ErrDuplicateName = errors.New("a custom voice with this name already exists")
	ErrInvalidName   = errors.New("voice name is required")
	ErrInvalidAudio  = errors.New("reference audio is not usable")
)

// Reference samples outside these bounds are rejected: zero-length audio
// yields no embedding, and very long samples make embedding cost unbounded.
const (
	minSampleDuration = 100 * time.Millisecond
	maxSampleDuration = 5 * time.Minute
)

// Voice is one selectable synthesis voice.
type Voice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       Type   `json:"type"`
	CreatedAt  int64  `json:"created"`
	SamplePath string `json:"-"`
}

type voiceMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Store reads builtin voices and manages the custom voice directory.
// Mutations are serialized; reads go straight to the filesystem so the
// store never caches a voice that is gone from disk.
type Store struct {
	builtinDir string
	customDir  string
	mu         sync.Mutex
	now        func() time.Time
}

func New(builtinDir, customDir string) *Store {
	return &Store{
		builtinDir: builtinDir,
		customDir:  customDir,
		now:        time.Now,
	}
}

// EnsureDirs creates the writable custom voice directory.
func (s *Store) EnsureDirs() error {
	return os.MkdirAll(s.customDir, 0o755)
}

// List returns builtin voices first (sorted by filename), then custom
// voices sorted by directory name. Both orders are stable across calls.
func (s *Store) List() ([]Voice, error) {
	var voices []Voice

	if entries, err := os.ReadDir(s.builtinDir); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			voices = append(voices, Voice{
				ID:         stem,
				Name:       stem,
				Type:       TypeBuiltin,
				SamplePath: filepath.Join(s.builtinDir, name),
			})
		}
	}

	entries, err := os.ReadDir(s.customDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return voices, nil
		}
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		v, ok := s.readCustom(dir)
		if !ok {
			continue
		}
		voices = append(voices, v)
	}

	return voices, nil
}

func (s *Store) readCustom(dir string) (Voice, bool) {
	metaPath := filepath.Join(s.customDir, dir, "voice.json")
	samplePath := filepath.Join(s.customDir, dir, "sample.wav")
	if _, err := os.Stat(samplePath); err != nil {
		return Voice{}, false
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return Voice{}, false
	}
	var meta voiceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Voice{}, false
	}
	id := meta.ID
	if id == "" {
		id = dir
	}
	name := meta.Name
	if name == "" {
		name = dir
	}
	return Voice{
		ID:         id,
		Name:       name,
		Type:       TypeCustom,
		CreatedAt:  meta.CreatedAt,
		SamplePath: samplePath,
	}, true
}

// Get resolves a voice by id across builtin and custom voices.
func (s *Store) Get(id string) (Voice, error) {
	voices, err := s.List()
	if err != nil {
		return Voice{}, err
	}
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return Voice{}, ErrNotFound
}

// CustomCount reports the number of listable custom voices.
func (s *Store) CustomCount() int {
	voices, err := s.List()
	if err != nil {
		return 0
	}
	n := 0
	for _, v := range voices {
		if v.Type == TypeCustom {
			n++
		}
	}
	return n
}

// Create validates and persists a new custom voice. The sample must be a
// decodable WAV within duration bounds. The voice directory is staged under
// a hidden temp name and renamed into place, so a crash mid-write never
// leaves a listable half-voice behind.
func (s *Store) Create(name string, sample io.Reader) (Voice, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Voice{}, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDirs(); err != nil {
		return Voice{}, err
	}

	voices, err := s.List()
	if err != nil {
		return Voice{}, err
	}
	for _, v := range voices {
		if v.Type == TypeCustom && strings.EqualFold(v.Name, name) {
			return Voice{}, ErrDuplicateName
		}
	}

	id := slugify(name) + "-" + uuid.NewString()[:8]
	stagingDir := filepath.Join(s.customDir, ".tmp-"+id)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return Voice{}, err
	}
	defer os.RemoveAll(stagingDir)

	samplePath := filepath.Join(stagingDir, "sample.wav")
	f, err := os.OpenFile(samplePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Voice{}, err
	}
	if _, err := io.Copy(f, sample); err != nil {
		_ = f.Close()
		return Voice{}, err
	}
	if err := f.Close(); err != nil {
		return Voice{}, err
	}

	probe, err := os.Open(samplePath)
	if err != nil {
		return Voice{}, err
	}
	info, err := audio.ProbeWAV(probe)
	_ = probe.Close()
	if err != nil {
		return Voice{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if info.Duration < minSampleDuration {
		return Voice{}, fmt.Errorf("%w: sample too short (%s)", ErrInvalidAudio, info.Duration)
	}
	if info.Duration > maxSampleDuration {
		return Voice{}, fmt.Errorf("%w: sample too long (%s, max %s)", ErrInvalidAudio, info.Duration, maxSampleDuration)
	}

	now := s.now().Unix()
	meta, err := json.MarshalIndent(voiceMeta{ID: id, Name: name, CreatedAt: now}, "", "  ")
	if err != nil {
		return Voice{}, err
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "voice.json"), meta, 0o644); err != nil {
		return Voice{}, err
	}

	finalDir := filepath.Join(s.customDir, id)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return Voice{}, err
	}

	return Voice{
		ID:         id,
		Name:       name,
		Type:       TypeCustom,
		CreatedAt:  now,
		SamplePath: filepath.Join(finalDir, "sample.wav"),
	}, nil
}

// Delete removes a custom voice and its reference audio.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.Get(id)
	if err != nil {
		return err
	}
	if v.Type == TypeBuiltin {
		return ErrBuiltinVoice
	}
	return os.RemoveAll(filepath.Dir(v.SamplePath))
}

var nonSlugPattern = regexp.MustCompile(`[^a-z0-9_-]+`)
var dashRunPattern = regexp.MustCompile(`-{2,}`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonSlugPattern.ReplaceAllString(s, "-")
	s = dashRunPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "voice"
	}
	return s
}
