// Package ingest normalizes heterogeneous shared health payloads into
// canonical records.
package ingest

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/Georgexzy/quest-tracker/internal/core"
)

// stepPattern matches "<1-to-5-digit number> step(s)" in free text.
var stepPattern = regexp.MustCompile(`(?i)(\d{1,5})\s*steps?`)

// Record is one normalized result: either a steps record or a health record,
// never both.
type Record struct {
	Steps  *core.StepsRecord
	Health *core.HealthRecord
}

// Normalizer converts shared payloads into canonical records. It is pure;
// persistence and reconciliation happen in the Ingestor.
type Normalizer struct {
	clock core.Clock
}

// NewNormalizer creates a normalizer using the given clock for date defaults.
func NewNormalizer(clock core.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize converts a raw shared payload into canonical records. Input may
// be a structured JSON document (object or array), delimited text, or free
// text. Unparseable text yields zero records; callers tolerate empty results.
func (n *Normalizer) Normalize(raw []byte) []Record {
	var doc any
	if err := json.Unmarshal(raw, &doc); err == nil {
		switch v := doc.(type) {
		case []any:
			return n.fromElements(v)
		case map[string]any:
			return n.fromElements([]any{v})
		}
		// Scalar JSON (bare string or number) carries no structure; fall
		// through to text normalization of the raw bytes.
	}

	return n.fromText(string(raw))
}

// fromElements applies the structured-document policy: elements that look
// like step counts become steps records; everything else is stored verbatim
// as health data.
func (n *Normalizer) fromElements(elements []any) []Record {
	var records []Record

	for _, el := range elements {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}

		if obj["type"] == "steps" || obj["steps"] != nil || obj["value"] != nil {
			records = append(records, Record{Steps: n.stepsFromObject(obj)})
			continue
		}

		records = append(records, Record{Health: &core.HealthRecord{
			Type:    stringField(obj, "type"),
			Date:    stringField(obj, "date"),
			Payload: obj,
		}})
	}

	return records
}

func (n *Normalizer) stepsFromObject(obj map[string]any) *core.StepsRecord {
	date := stringField(obj, "date")
	if date == "" {
		date = core.LocalDate(n.clock.Now())
	}

	steps := 0
	if v, ok := numberField(obj, "steps"); ok {
		steps = v
	} else if v, ok := numberField(obj, "value"); ok {
		steps = v
	}

	source := stringField(obj, "source")
	if source == "" {
		source = "shared"
	}

	metadata, _ := obj["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &core.StepsRecord{
		Date:     date,
		Steps:    steps,
		Source:   source,
		Metadata: metadata,
	}
}

// fromText handles delimited and free text. Comma-bearing text is treated as
// delimited: each data line's first two fields map to date and steps. Text
// without a comma is scanned for the step pattern; anything else yields zero
// records.
func (n *Normalizer) fromText(text string) []Record {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.Contains(text, ",") {
		return n.fromDelimited(text)
	}

	var records []Record
	for _, m := range stepPattern.FindAllStringSubmatch(text, -1) {
		steps, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		records = append(records, Record{Steps: &core.StepsRecord{
			Date:     core.LocalDate(n.clock.Now()),
			Steps:    steps,
			Source:   "shared",
			Metadata: map[string]any{},
		}})
	}
	return records
}

func (n *Normalizer) fromDelimited(text string) []Record {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil
	}

	// The first line is a header only when its second field is not a step
	// count; bare exports arrive without one.
	start := 0
	if fields := strings.Split(lines[0], ","); len(fields) >= 2 {
		if _, err := strconv.Atoi(strings.TrimSpace(fields[1])); err != nil {
			start = 1
		}
	} else {
		start = 1
	}

	var records []Record
	for _, line := range lines[start:] {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}

		steps, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			steps = 0
		}

		records = append(records, Record{Steps: &core.StepsRecord{
			Date:     strings.TrimSpace(fields[0]),
			Steps:    steps,
			Source:   "shared",
			Metadata: map[string]any{},
		}})
	}
	return records
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func numberField(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
