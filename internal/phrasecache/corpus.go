package phrasecache

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

// Corpus is a static phrase source loaded from CSV, consulted before the LLM
// provider. Rows are `prompt,phrase`; a row with an empty prompt is a
// general-purpose phrase usable under any prompt.
type Corpus struct {
	byPrompt map[string][]string
	general  []string
}

// LoadCorpus reads the CSV file at path. A missing path yields an empty
// corpus, not an error, so deployments without one just lean on the LLM.
func LoadCorpus(path string) (*Corpus, error) {
	c := &Corpus{byPrompt: make(map[string][]string)}
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Cache("corpus file %s not found, continuing without static corpus", path)
			return c, nil
		}
		return nil, fmt.Errorf("failed to open corpus %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
		}
		if len(rec) < 2 {
			continue
		}
		prompt := validate.Normalize(rec[0])
		phrase := strings.TrimSpace(rec[1])
		if phrase == "" {
			continue
		}
		if prompt == "" {
			c.general = append(c.general, phrase)
		} else {
			c.byPrompt[prompt] = append(c.byPrompt[prompt], phrase)
		}
		rows++
	}
	logging.Cache("loaded %d corpus phrases from %s", rows, path)
	return c, nil
}

// PhrasesFor returns corpus candidates for a prompt: prompt-specific rows
// first, then general-purpose ones.
func (c *Corpus) PhrasesFor(promptText string) []string {
	key := validate.Normalize(promptText)
	out := append([]string{}, c.byPrompt[key]...)
	return append(out, c.general...)
}
