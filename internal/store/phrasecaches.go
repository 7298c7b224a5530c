package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const cacheCols = `id, prompt_key, prompt_text, phrases, use_counts, provider, model,
	used_for_backup_copy, used_for_hint, created_at`

func scanCache(row interface{ Scan(...any) error }) (*types.PhraseCacheEntry, error) {
	var c types.PhraseCacheEntry
	var phrases, counts string
	var promptText string
	var created int64
	err := row.Scan(&c.ID, &c.PromptKey, &promptText, &phrases, &counts, &c.Provider, &c.Model,
		&c.UsedForBackupCopy, &c.UsedForHint, &created)
	if err != nil {
		return nil, err
	}
	c.Phrases = unmarshalStrings(phrases)
	c.UseCounts = unmarshalInts(counts)
	c.CreatedAt = fromNS(created)
	_ = promptText
	return &c, nil
}

// InsertPhraseCache stores a cache entry. The prompt_key uniqueness
// constraint keeps at most one cache per key.
func (t *Tx) InsertPhraseCache(c *types.PhraseCacheEntry, promptText string) error {
	if len(c.UseCounts) != len(c.Phrases) {
		c.UseCounts = make([]int, len(c.Phrases))
	}
	_, err := t.tx.Exec(`
		INSERT INTO phrase_caches (`+cacheCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PromptKey, promptText, marshalJSON(c.Phrases), marshalJSON(c.UseCounts),
		c.Provider, c.Model, c.UsedForBackupCopy, c.UsedForHint, tns(c.CreatedAt))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("cache for key %s already exists", c.PromptKey)
	}
	return wrapStoreErr("InsertPhraseCache", err)
}

// GetPhraseCache returns the cache for a prompt key or nil.
func (t *Tx) GetPhraseCache(promptKey string) (*types.PhraseCacheEntry, error) {
	c, err := scanCache(t.tx.QueryRow(`SELECT `+cacheCols+` FROM phrase_caches WHERE prompt_key = ?`, promptKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetPhraseCache", err)
	}
	return c, nil
}

// UpdatePhraseCache rewrites the phrase list, use counts and usage flags.
func (t *Tx) UpdatePhraseCache(c *types.PhraseCacheEntry) error {
	_, err := t.tx.Exec(`
		UPDATE phrase_caches SET phrases = ?, use_counts = ?, used_for_backup_copy = ?, used_for_hint = ?
		WHERE id = ?`,
		marshalJSON(c.Phrases), marshalJSON(c.UseCounts), c.UsedForBackupCopy, c.UsedForHint, c.ID)
	return wrapStoreErr("UpdatePhraseCache", err)
}

// DeletePhraseCache removes a cache so it can be regenerated.
func (t *Tx) DeletePhraseCache(id string) error {
	_, err := t.tx.Exec(`DELETE FROM phrase_caches WHERE id = ?`, id)
	return wrapStoreErr("DeletePhraseCache", err)
}

// ListCachePhrasesByPrompt returns every phrase cached under any key for the
// same prompt text; the generator filters these out as already used.
func (t *Tx) ListCachePhrasesByPrompt(promptText string) ([]string, error) {
	rows, err := t.tx.Query(`SELECT phrases FROM phrase_caches WHERE prompt_text = ?`, promptText)
	if err != nil {
		return nil, wrapStoreErr("ListCachePhrasesByPrompt", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, wrapStoreErr("ListCachePhrasesByPrompt scan", err)
		}
		out = append(out, unmarshalStrings(s)...)
	}
	return out, rows.Err()
}
