package pipeline

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

func decodeLevelData(t *testing.T, compressed []byte) levelData {
	t.Helper()
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("level data is not gzip: %v", err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("decompress level data: %v", err)
	}
	var level levelData
	if err := json.Unmarshal(raw, &level); err != nil {
		t.Fatalf("level data is not json: %v", err)
	}
	return level
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"song.sus":  FormatSUS,
		"SONG.SUS":  FormatSUS,
		"song.usc":  FormatUSC,
		"noext":     FormatUSC,
		"weird.txt": FormatUSC,
	}
	for name, want := range cases {
		if got := DetectFormat(name); got != want {
			t.Fatalf("DetectFormat(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestConvertUSC(t *testing.T) {
	document := `{
		"version": 2,
		"usc": {
			"offset": -0.25,
			"objects": [
				{"type": "bpm", "beat": 0, "bpm": 185},
				{"type": "single", "beat": 1, "lane": -2, "size": 1.5},
				{"type": "hologram", "beat": 2},
				{"type": "damage", "beat": 3.5, "lane": 0, "size": 1}
			]
		}
	}`

	compressed, err := NewEngineConverter().Convert([]byte(document), FormatUSC)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	level := decodeLevelData(t, compressed)

	if level.BGMOffset != -0.25 {
		t.Fatalf("BGMOffset = %v, want -0.25", level.BGMOffset)
	}
	if len(level.Entities) != 3 {
		t.Fatalf("entity count = %d, want 3 (unknown kinds skipped)", len(level.Entities))
	}
	if level.Entities[0].Archetype != "#BPM_CHANGE" {
		t.Fatalf("first archetype = %q, want #BPM_CHANGE", level.Entities[0].Archetype)
	}
	if level.Entities[2].Archetype != "DamageNote" {
		t.Fatalf("damage archetype = %q, want DamageNote", level.Entities[2].Archetype)
	}
}

func TestConvertUSCRejectsEmptyDocument(t *testing.T) {
	_, err := NewEngineConverter().Convert([]byte(`{"usc":{"objects":[]}}`), FormatUSC)
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}

func TestConvertUSCRejectsMalformedJSON(t *testing.T) {
	_, err := NewEngineConverter().Convert([]byte(`{"usc":`), FormatUSC)
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}

func TestConvertSUS(t *testing.T) {
	document := "" +
		"#WAVEOFFSET 1.5\n" +
		"#BPM01: 120\n" +
		"#00008: 01\n" +
		"#00112: 0300\n" +
		"\n" +
		"random garbage line without hash\n"

	compressed, err := NewEngineConverter().Convert([]byte(document), FormatSUS)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	level := decodeLevelData(t, compressed)

	if level.BGMOffset != 1.5 {
		t.Fatalf("BGMOffset = %v, want 1.5", level.BGMOffset)
	}
	if len(level.Entities) != 2 {
		t.Fatalf("entity count = %d, want 2", len(level.Entities))
	}
	// Measure 0 BPM change sorts before the measure 1 note.
	if level.Entities[0].Archetype != "#BPM_CHANGE" {
		t.Fatalf("first archetype = %q, want #BPM_CHANGE", level.Entities[0].Archetype)
	}
	if got := entityBeat(level.Entities[1]); got != 4 {
		t.Fatalf("note beat = %v, want 4", got)
	}
}

func TestConvertSUSUndefinedBPMReference(t *testing.T) {
	document := "#00008: 05\n"
	_, err := NewEngineConverter().Convert([]byte(document), FormatSUS)
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}

func TestConvertSUSOddMeasureData(t *testing.T) {
	document := "#00010: 012\n"
	_, err := NewEngineConverter().Convert([]byte(document), FormatSUS)
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}

func TestConvertSUSEmptyChart(t *testing.T) {
	_, err := NewEngineConverter().Convert([]byte("#WAVEOFFSET 0\n"), FormatSUS)
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}
