package pipeline

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Format identifies the textual chart-description format of an upload.
type Format string

const (
	FormatSUS Format = "sus"
	FormatUSC Format = "usc"
)

// DetectFormat picks the chart format from the uploaded file name. Anything
// that is not .sus is treated as .usc, matching historical behavior.
func DetectFormat(filename string) Format {
	if strings.HasSuffix(strings.ToLower(filename), ".sus") {
		return FormatSUS
	}
	return FormatUSC
}

// ChartConverter turns an uploaded chart description into the engine's
// compressed binary level data. The engine schema itself is opaque to the
// catalog; this package only guarantees a parseable input produces a
// gzipped level-data document.
type ChartConverter interface {
	Convert(data []byte, format Format) ([]byte, error)
}

// levelEntity is one playable object in the engine level data.
type levelEntity struct {
	Archetype string             `json:"archetype"`
	Data      []levelEntityDatum `json:"data,omitempty"`
}

type levelEntityDatum struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// levelData is the engine-facing document, serialized as gzipped JSON.
type levelData struct {
	BGMOffset float64       `json:"bgmOffset"`
	Entities  []levelEntity `json:"entities"`
}

// EngineConverter is the default ChartConverter for the target engine.
type EngineConverter struct{}

// NewEngineConverter returns the default converter.
func NewEngineConverter() *EngineConverter {
	return &EngineConverter{}
}

// Convert parses the chart description, builds level data and compresses
// it. Unparseable input is reported as ErrInvalidChart.
func (c *EngineConverter) Convert(data []byte, format Format) ([]byte, error) {
	var (
		level *levelData
		err   error
	)
	switch format {
	case FormatSUS:
		level, err = parseSUS(data)
	case FormatUSC:
		level, err = parseUSC(data)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidChart, format)
	}
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(level)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write(encoded); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// uscDocument mirrors the relevant subset of the .usc JSON schema.
type uscDocument struct {
	Version int `json:"version"`
	USC     struct {
		Offset  float64 `json:"offset"`
		Objects []struct {
			Type string  `json:"type"`
			Beat float64 `json:"beat"`
			Lane float64 `json:"lane"`
			Size float64 `json:"size"`
			BPM  float64 `json:"bpm"`
		} `json:"objects"`
	} `json:"usc"`
}

func parseUSC(data []byte) (*levelData, error) {
	var doc uscDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}
	if len(doc.USC.Objects) == 0 {
		return nil, fmt.Errorf("%w: usc document has no objects", ErrInvalidChart)
	}

	level := &levelData{BGMOffset: doc.USC.Offset}
	for _, object := range doc.USC.Objects {
		switch object.Type {
		case "bpm":
			level.Entities = append(level.Entities, levelEntity{
				Archetype: "#BPM_CHANGE",
				Data: []levelEntityDatum{
					{Name: "#BEAT", Value: object.Beat},
					{Name: "#BPM", Value: object.BPM},
				},
			})
		case "single", "slide", "guide", "damage":
			level.Entities = append(level.Entities, levelEntity{
				Archetype: archetypeFor(object.Type),
				Data: []levelEntityDatum{
					{Name: "#BEAT", Value: object.Beat},
					{Name: "lane", Value: object.Lane},
					{Name: "size", Value: object.Size},
				},
			})
		default:
			// Unknown object kinds are skipped so newer editor output
			// still converts.
		}
	}
	if len(level.Entities) == 0 {
		return nil, fmt.Errorf("%w: usc document has no playable objects", ErrInvalidChart)
	}
	return level, nil
}

func archetypeFor(kind string) string {
	switch kind {
	case "slide":
		return "SlideStartNote"
	case "guide":
		return "GuideNote"
	case "damage":
		return "DamageNote"
	default:
		return "NormalTapNote"
	}
}

const beatsPerMeasure = 4

// parseSUS handles the line-oriented .sus format: `#BPMzz:` definitions,
// `#TIL` timing lines are ignored, and `#mmmcX:` measure data lines carry
// two-character note cells spread evenly across the measure.
func parseSUS(data []byte) (*levelData, error) {
	level := &levelData{}
	bpmDefs := map[string]float64{}
	type bpmUse struct {
		beat float64
		ref  string
	}
	var bpmUses []bpmUse

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "#WAVEOFFSET") {
			value := strings.TrimSpace(strings.TrimPrefix(line, "#WAVEOFFSET"))
			offset, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad WAVEOFFSET on line %d", ErrInvalidChart, lineNo)
			}
			level.BGMOffset = offset
			continue
		}
		if strings.HasPrefix(line, "#BPM") && strings.Contains(line, ":") {
			header, value, _ := strings.Cut(line, ":")
			ref := strings.TrimPrefix(header, "#BPM")
			bpm, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || bpm <= 0 {
				return nil, fmt.Errorf("%w: bad BPM definition on line %d", ErrInvalidChart, lineNo)
			}
			bpmDefs[strings.TrimSpace(ref)] = bpm
			continue
		}

		header, value, found := strings.Cut(line, ":")
		if !found || len(header) != 6 {
			continue
		}
		measure, err := strconv.Atoi(header[1:4])
		if err != nil {
			continue
		}
		channel := header[4:6]
		cells := strings.ReplaceAll(strings.TrimSpace(value), " ", "")
		if len(cells)%2 != 0 {
			return nil, fmt.Errorf("%w: odd-length measure data on line %d", ErrInvalidChart, lineNo)
		}

		cellCount := len(cells) / 2
		for i := 0; i < cellCount; i++ {
			cell := cells[i*2 : i*2+2]
			if cell == "00" {
				continue
			}
			beat := float64(measure*beatsPerMeasure) +
				float64(i)*beatsPerMeasure/float64(cellCount)
			if channel == "08" {
				// BPM change channel references a #BPMzz definition.
				bpmUses = append(bpmUses, bpmUse{beat: beat, ref: cell})
				continue
			}
			lane, _ := strconv.ParseInt(header[5:6], 36, 32)
			width, err := strconv.ParseInt(cell[1:2], 36, 32)
			if err != nil || width == 0 {
				width = 1
			}
			level.Entities = append(level.Entities, levelEntity{
				Archetype: "NormalTapNote",
				Data: []levelEntityDatum{
					{Name: "#BEAT", Value: beat},
					{Name: "lane", Value: float64(lane)},
					{Name: "size", Value: float64(width)},
				},
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}

	for _, use := range bpmUses {
		bpm, ok := bpmDefs[use.ref]
		if !ok {
			return nil, fmt.Errorf("%w: undefined BPM reference %q", ErrInvalidChart, use.ref)
		}
		level.Entities = append(level.Entities, levelEntity{
			Archetype: "#BPM_CHANGE",
			Data: []levelEntityDatum{
				{Name: "#BEAT", Value: use.beat},
				{Name: "#BPM", Value: bpm},
			},
		})
	}

	if len(level.Entities) == 0 {
		return nil, fmt.Errorf("%w: sus document has no notes", ErrInvalidChart)
	}
	sort.SliceStable(level.Entities, func(i, j int) bool {
		return entityBeat(level.Entities[i]) < entityBeat(level.Entities[j])
	})
	return level, nil
}

func entityBeat(entity levelEntity) float64 {
	for _, datum := range entity.Data {
		if datum.Name == "#BEAT" {
			return datum.Value
		}
	}
	return 0
}
