package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const TypeUnanswerable = "unanswerable"

// Record is one labelled evaluation query.
type Record struct {
	ID              string   `json:"id"`
	Query           string   `json:"query"`
	Type            string   `json:"type"`
	ExpectedIDs     []string `json:"expected_ids"`
	ExpectedOutcome string   `json:"expected_outcome"`
	Expected        string   `json:"expected"`
	ExpectedAnswer  string   `json:"expected_answer"`
	GoldContains    []string `json:"gold_contains"`
}

// UnmarshalJSON accepts expected_docs for expected_ids, gold_contain for
// gold_contains, and numeric ids.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		ID           json.RawMessage   `json:"id"`
		ExpectedIDs  []json.RawMessage `json:"expected_ids"`
		ExpectedDocs []json.RawMessage `json:"expected_docs"`
		GoldContain  []string          `json:"gold_contain"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)

	r.ID = rawString(aux.ID)
	expected := aux.ExpectedIDs
	if len(expected) == 0 {
		expected = aux.ExpectedDocs
	}
	r.ExpectedIDs = make([]string, 0, len(expected))
	for _, e := range expected {
		if s := rawString(e); s != "" {
			r.ExpectedIDs = append(r.ExpectedIDs, s)
		}
	}
	if len(r.GoldContains) == 0 {
		r.GoldContains = aux.GoldContain
	}
	if r.Type == "" {
		r.Type = "normal"
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (r Record) Unanswerable() bool { return r.Type == TypeUnanswerable }

// ExpectedDecision is "ANSWER", "ABSTAIN" or "" when the record carries no
// expectation.
func (r Record) ExpectedDecision() string {
	switch {
	case r.Expected != "":
		return strings.ToUpper(r.Expected)
	case r.ExpectedOutcome == "ANSWERED":
		return "ANSWER"
	case strings.HasPrefix(r.ExpectedOutcome, "ABSTAIN"):
		return "ABSTAIN"
	}
	return ""
}

// LoadDataset reads a JSON array of records. Every record needs a query.
func LoadDataset(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(raw)
}

func ParseDataset(raw []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i := range records {
		records[i].Query = strings.TrimSpace(records[i].Query)
		if records[i].Query == "" {
			return nil, fmt.Errorf("dataset record %d (%q) has no query", i, records[i].ID)
		}
		if records[i].ID == "" {
			records[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return records, nil
}
