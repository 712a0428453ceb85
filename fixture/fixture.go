// Package fixture loads and dumps gridstore contents as line-delimited
// JSON, for building test stores from a readable format and for
// inspecting what a built store actually contains.
package fixture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tilegrid/gridstore/pkg/gridstore"
)

// StoreEntryBuildingBlock is one line of a fixture file: a GridKey and the
// entries to insert under it.
type StoreEntryBuildingBlock struct {
	GridKey gridstore.GridKey   `json:"grid_key"`
	Entries []gridstore.GridEntry `json:"entries"`
}

// gridKeyJSON and gridEntryJSON mirror the reference fixture format: a
// GridKey's language set is a plain array of language ids rather than the
// packed LangSet bytes, and a GridEntry's relevance is the float a test
// author writes by hand rather than the quantized on-disk bucket.
type gridKeyJSON struct {
	PhraseID uint32 `json:"phrase_id"`
	LangSet  []int  `json:"lang_set"`
}

type gridEntryJSON struct {
	Relev            float64 `json:"relev"`
	Score            uint8   `json:"score"`
	X                uint16  `json:"x"`
	Y                uint16  `json:"y"`
	ID               uint32  `json:"id"`
	SourcePhraseHash uint8   `json:"source_phrase_hash"`
}

func (b StoreEntryBuildingBlock) MarshalJSON() ([]byte, error) {
	lang := langSetToArray(b.GridKey.LangSet)
	entries := make([]gridEntryJSON, len(b.Entries))
	for i, e := range b.Entries {
		entries[i] = gridEntryJSON{
			Relev:            e.Relev(),
			Score:            e.Score,
			X:                e.X,
			Y:                e.Y,
			ID:               e.ID,
			SourcePhraseHash: e.SourcePhraseHash,
		}
	}
	return json.Marshal(struct {
		GridKey gridKeyJSON     `json:"grid_key"`
		Entries []gridEntryJSON `json:"entries"`
	}{
		GridKey: gridKeyJSON{PhraseID: b.GridKey.PhraseID, LangSet: lang},
		Entries: entries,
	})
}

func (b *StoreEntryBuildingBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		GridKey gridKeyJSON     `json:"grid_key"`
		Entries []gridEntryJSON `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.GridKey = gridstore.GridKey{
		PhraseID: raw.GridKey.PhraseID,
		LangSet:  arrayToLangSet(raw.GridKey.LangSet),
	}
	b.Entries = make([]gridstore.GridEntry, len(raw.Entries))
	for i, e := range raw.Entries {
		b.Entries[i] = gridstore.GridEntry{
			RelevBits:        gridstore.RelevFloatToInt(e.Relev),
			Score:            e.Score,
			X:                e.X,
			Y:                e.Y,
			ID:               e.ID,
			SourcePhraseHash: e.SourcePhraseHash,
		}
	}
	return nil
}

func langSetToArray(l gridstore.LangSet) []int {
	if l.IsAll() {
		return nil
	}
	var out []int
	for i := 0; i < 128; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if l[byteIdx]&(1<<uint(bitIdx)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func arrayToLangSet(ids []int) gridstore.LangSet {
	if ids == nil {
		return gridstore.AllLanguages
	}
	var l gridstore.LangSet
	for _, id := range ids {
		l = l.WithLang(id)
	}
	return l
}

// Load reads path as line-delimited JSON, one StoreEntryBuildingBlock per
// line, and inserts every block into b. Blank lines are skipped.
func Load(b *gridstore.Builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fixture: load %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var block StoreEntryBuildingBlock
		if err := json.Unmarshal([]byte(text), &block); err != nil {
			return fmt.Errorf("fixture: load %q: line %d: %w", path, line, err)
		}
		b.Insert(block.GridKey, block.Entries)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("fixture: load %q: %w", path, err)
	}
	return nil
}

// Dump writes every key in store as line-delimited JSON to path, one
// StoreEntryBuildingBlock per line.
func Dump(store *gridstore.GridStore, path string) error {
	keys, err := store.Keys()
	if err != nil {
		return fmt.Errorf("fixture: dump: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fixture: dump %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	for _, key := range keys {
		entries, err := store.Get(key)
		if err != nil {
			return fmt.Errorf("fixture: dump: get %+v: %w", key, err)
		}
		line, err := json.Marshal(StoreEntryBuildingBlock{GridKey: key, Entries: entries})
		if err != nil {
			return fmt.Errorf("fixture: dump: marshal %+v: %w", key, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("fixture: dump %q: %w", path, err)
		}
	}
	return nil
}
