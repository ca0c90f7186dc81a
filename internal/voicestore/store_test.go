package voicestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vibevoice-community/vibevoice-server/internal/audio"
)

func newTestStore(t *testing.T, builtinNames ...string) *Store {
	t.Helper()
	builtinDir := t.TempDir()
	customDir := filepath.Join(t.TempDir(), "voices")

	for _, name := range builtinNames {
		wav := sampleWAV(t, 24000) // one second
		if err := os.WriteFile(filepath.Join(builtinDir, name+".wav"), wav, 0o644); err != nil {
			t.Fatalf("write builtin voice: %v", err)
		}
	}

	s := New(builtinDir, customDir)
	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs error = %v", err)
	}
	return s
}

func sampleWAV(t *testing.T, samples int) []byte {
	t.Helper()
	wav, err := audio.EncodeWAV(make([]float32, samples), 24000)
	if err != nil {
		t.Fatalf("EncodeWAV error = %v", err)
	}
	return wav
}

func TestListBuiltinVoicesSorted(t *testing.T) {
	s := newTestStore(t, "zh-xinran", "en-alice", "en-frank")

	voices, err := s.List()
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("len(voices) = %d, want 3", len(voices))
	}
	wantIDs := []string{"en-alice", "en-frank", "zh-xinran"}
	for i, want := range wantIDs {
		if voices[i].ID != want {
			t.Fatalf("voices[%d].ID = %q, want %q", i, voices[i].ID, want)
		}
		if voices[i].Type != TypeBuiltin {
			t.Fatalf("voices[%d].Type = %q, want builtin", i, voices[i].Type)
		}
		if voices[i].SamplePath == "" {
			t.Fatalf("voices[%d] has no sample path", i)
		}
	}
}

func TestCreateAndGetCustomVoice(t *testing.T) {
	s := newTestStore(t, "en-alice")

	v, err := s.Create("My Narrator", bytes.NewReader(sampleWAV(t, 24000)))
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if !strings.HasPrefix(v.ID, "my-narrator-") {
		t.Fatalf("ID = %q, want my-narrator-<suffix>", v.ID)
	}
	if v.Type != TypeCustom {
		t.Fatalf("Type = %q, want custom", v.Type)
	}
	if v.CreatedAt == 0 {
		t.Fatalf("CreatedAt not set")
	}
	if _, err := os.Stat(v.SamplePath); err != nil {
		t.Fatalf("sample file missing: %v", err)
	}

	got, err := s.Get(v.ID)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", v.ID, err)
	}
	if got.Name != "My Narrator" {
		t.Fatalf("Name = %q, want %q", got.Name, "My Narrator")
	}

	// Builtin voices always sort before custom ones.
	voices, err := s.List()
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(voices) != 2 || voices[0].Type != TypeBuiltin || voices[1].Type != TypeCustom {
		t.Fatalf("List order = %+v, want builtin then custom", voices)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("Narrator", bytes.NewReader(sampleWAV(t, 24000))); err != nil {
		t.Fatalf("first Create error = %v", err)
	}
	if _, err := s.Create("narrator", bytes.NewReader(sampleWAV(t, 24000))); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Create error = %v, want ErrDuplicateName", err)
	}
}

func TestCreateRejectsBadAudioAndLeavesNothingBehind(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("Broken", strings.NewReader("this is not audio")); !errors.Is(err, ErrInvalidAudio) {
		t.Fatalf("Create error = %v, want ErrInvalidAudio", err)
	}
	// Too short to carry a usable embedding.
	if _, err := s.Create("Blip", bytes.NewReader(sampleWAV(t, 240))); !errors.Is(err, ErrInvalidAudio) {
		t.Fatalf("Create(short) error = %v, want ErrInvalidAudio", err)
	}

	voices, err := s.List()
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(voices) != 0 {
		t.Fatalf("failed creates left %d listable voices: %+v", len(voices), voices)
	}
	entries, err := os.ReadDir(s.customDir)
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed creates left %d entries on disk", len(entries))
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("   ", bytes.NewReader(sampleWAV(t, 24000)))
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Create error = %v, want ErrInvalidName", err)
	}
	if errors.Is(err, ErrInvalidAudio) {
		t.Fatalf("name validation misreported as an audio error")
	}
}

func TestDeleteCustomVoice(t *testing.T) {
	s := newTestStore(t)

	v, err := s.Create("Removable", bytes.NewReader(sampleWAV(t, 24000)))
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if err := s.Delete(v.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if _, err := s.Get(v.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Dir(v.SamplePath)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("voice directory still on disk after delete")
	}
}

func TestDeleteBuiltinVoiceRefused(t *testing.T) {
	s := newTestStore(t, "en-alice")

	if err := s.Delete("en-alice"); !errors.Is(err, ErrBuiltinVoice) {
		t.Fatalf("Delete(builtin) error = %v, want ErrBuiltinVoice", err)
	}
	if _, err := s.Get("en-alice"); err != nil {
		t.Fatalf("builtin voice gone after refused delete: %v", err)
	}
}

func TestDeleteUnknownVoice(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete("no-such-voice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete error = %v, want ErrNotFound", err)
	}
}

func TestCustomCount(t *testing.T) {
	s := newTestStore(t, "en-alice")
	if n := s.CustomCount(); n != 0 {
		t.Fatalf("CustomCount = %d, want 0", n)
	}
	if _, err := s.Create("One", bytes.NewReader(sampleWAV(t, 24000))); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if n := s.CustomCount(); n != 1 {
		t.Fatalf("CustomCount = %d, want 1", n)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Narrator":   "my-narrator",
		"  Café Voice ": "caf-voice",
		"---":           "voice",
		"A__B":          "a__b",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
