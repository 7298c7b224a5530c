package store

import "fmt"

// initialize creates the required tables. Schema changes are additive; the
// migration hook at the bottom adds columns to existing databases.
func (s *Store) initialize() error {
	playersTable := `
	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		username_lower TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		is_guest INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL,
		anonymized_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_players_email ON players(email);
	`

	gameDataTable := `
	CREATE TABLE IF NOT EXISTS player_game_data (
		player_id TEXT NOT NULL REFERENCES players(id),
		game TEXT NOT NULL,
		wallet INTEGER NOT NULL DEFAULT 0 CHECK (wallet >= 0),
		vault INTEGER NOT NULL DEFAULT 0 CHECK (vault >= 0),
		tutorial_progress INTEGER NOT NULL DEFAULT 0,
		consecutive_bad_votes INTEGER NOT NULL DEFAULT 0,
		vote_lockout_until INTEGER,
		last_bonus_at INTEGER,
		PRIMARY KEY (player_id, game)
	);
	`

	aiRolesTable := `
	CREATE TABLE IF NOT EXISTS ai_roles (
		player_id TEXT NOT NULL REFERENCES players(id),
		role TEXT NOT NULL,
		PRIMARY KEY (player_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_ai_roles_role ON ai_roles(role);
	`

	roundsTable := `
	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL REFERENCES players(id),
		game TEXT NOT NULL,
		round_type TEXT NOT NULL,
		status TEXT NOT NULL,
		cost INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		prompt_text TEXT NOT NULL DEFAULT '',
		submitted_phrase TEXT NOT NULL DEFAULT '',
		copy_phrase TEXT NOT NULL DEFAULT '',
		chosen_entry_id TEXT NOT NULL DEFAULT '',
		prompt_round_id TEXT NOT NULL DEFAULT '',
		phraseset_id TEXT NOT NULL DEFAULT '',
		set_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		submitted_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_rounds_player_status ON rounds(player_id, game, status);
	CREATE INDEX IF NOT EXISTS idx_rounds_status_expiry ON rounds(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_rounds_session ON rounds(session_id);
	CREATE INDEX IF NOT EXISTS idx_rounds_prompt_round ON rounds(prompt_round_id);
	`

	phrasesetsTable := `
	CREATE TABLE IF NOT EXISTS phrasesets (
		id TEXT PRIMARY KEY,
		prompt_round_id TEXT NOT NULL,
		prompt_text TEXT NOT NULL,
		original_phrase TEXT NOT NULL,
		copy_phrase_1 TEXT NOT NULL DEFAULT '',
		copy_phrase_2 TEXT NOT NULL DEFAULT '',
		prompt_player_id TEXT NOT NULL,
		copy1_player_id TEXT NOT NULL DEFAULT '',
		copy2_player_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		votes_original INTEGER NOT NULL DEFAULT 0,
		votes_copy1 INTEGER NOT NULL DEFAULT 0,
		votes_copy2 INTEGER NOT NULL DEFAULT 0,
		prize_pool INTEGER NOT NULL DEFAULT 0,
		available_for_voting INTEGER NOT NULL DEFAULT 0,
		session_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		closing_at INTEGER,
		finalized_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_phrasesets_status ON phrasesets(status);
	CREATE INDEX IF NOT EXISTS idx_phrasesets_session ON phrasesets(session_id);
	`

	qfVotesTable := `
	CREATE TABLE IF NOT EXISTS qf_votes (
		id TEXT PRIMARY KEY,
		phraseset_id TEXT NOT NULL REFERENCES phrasesets(id),
		voter_id TEXT NOT NULL,
		choice TEXT NOT NULL, -- original | copy1 | copy2
		correct INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (phraseset_id, voter_id)
	);
	`

	backronymSetsTable := `
	CREATE TABLE IF NOT EXISTS backronym_sets (
		id TEXT PRIMARY KEY,
		word TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_count INTEGER NOT NULL DEFAULT 0,
		participant_vote_count INTEGER NOT NULL DEFAULT 0,
		non_participant_vote_count INTEGER NOT NULL DEFAULT 0,
		transitions_to_voting_at INTEGER,
		voting_finalized_at INTEGER,
		created_at INTEGER NOT NULL,
		last_human_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sets_status ON backronym_sets(status);
	CREATE INDEX IF NOT EXISTS idx_sets_word ON backronym_sets(word, created_at);
	`

	backronymEntriesTable := `
	CREATE TABLE IF NOT EXISTS backronym_entries (
		id TEXT PRIMARY KEY,
		set_id TEXT NOT NULL REFERENCES backronym_sets(id),
		player_id TEXT NOT NULL,
		words TEXT NOT NULL, -- JSON array, one word per letter
		votes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE (set_id, player_id)
	);
	`

	backronymVotesTable := `
	CREATE TABLE IF NOT EXISTS backronym_votes (
		id TEXT PRIMARY KEY,
		set_id TEXT NOT NULL REFERENCES backronym_sets(id),
		voter_id TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		participant INTEGER NOT NULL,
		correct INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (set_id, voter_id)
	);
	`

	tlPromptsTable := `
	CREATE TABLE IF NOT EXISTS tl_prompts (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	`

	tlRoundsTable := `
	CREATE TABLE IF NOT EXISTS tl_rounds (
		round_id TEXT PRIMARY KEY REFERENCES rounds(id),
		prompt_id TEXT NOT NULL,
		snapshot_answer_ids TEXT NOT NULL,  -- JSON array frozen at round start
		snapshot_cluster_ids TEXT NOT NULL, -- JSON array
		snapshot_weight REAL NOT NULL,
		matched_clusters TEXT NOT NULL DEFAULT '[]',
		strikes INTEGER NOT NULL DEFAULT 0 CHECK (strikes BETWEEN 0 AND 3),
		final_coverage REAL NOT NULL DEFAULT 0,
		gross_payout INTEGER NOT NULL DEFAULT 0,
		finalized_at INTEGER
	);
	`

	tlGuessesTable := `
	CREATE TABLE IF NOT EXISTS tl_guesses (
		id TEXT PRIMARY KEY,
		round_id TEXT NOT NULL REFERENCES tl_rounds(round_id),
		text TEXT NOT NULL,
		embedding TEXT NOT NULL,
		matched INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_guesses_round ON tl_guesses(round_id);
	`

	tlAnswersTable := `
	CREATE TABLE IF NOT EXISTS tl_answers (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		text TEXT NOT NULL,
		cluster_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		contributed_matches INTEGER NOT NULL DEFAULT 0,
		shows INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answers_prompt_active ON tl_answers(prompt_id, active);
	CREATE INDEX IF NOT EXISTS idx_answers_cluster ON tl_answers(cluster_id);
	`

	clustersTable := `
	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		centroid TEXT NOT NULL, -- JSON float array, running mean of members
		size INTEGER NOT NULL CHECK (size >= 1),
		example_answer TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clusters_prompt ON clusters(prompt_id);
	`

	embeddingCacheTable := `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		phrase TEXT NOT NULL,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		vector TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (phrase, model, provider)
	);
	`

	transactionsTable := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL REFERENCES players(id),
		game TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		kind TEXT NOT NULL,
		vault INTEGER NOT NULL DEFAULT 0,
		ref_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_txn_player ON transactions(player_id, game);
	CREATE INDEX IF NOT EXISTS idx_txn_ref ON transactions(ref_id);
	`

	sessionsTable := `
	CREATE TABLE IF NOT EXISTS party_sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		host_player_id TEXT NOT NULL,
		min_players INTEGER NOT NULL,
		max_players INTEGER NOT NULL,
		prompts_per_player INTEGER NOT NULL,
		copies_per_player INTEGER NOT NULL,
		votes_per_player INTEGER NOT NULL,
		status TEXT NOT NULL,
		current_phase TEXT NOT NULL,
		phase_started_at INTEGER NOT NULL,
		phase_expires_at INTEGER,
		locked_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_code ON party_sessions(code);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON party_sessions(status);
	`

	participantsTable := `
	CREATE TABLE IF NOT EXISTS party_participants (
		session_id TEXT NOT NULL REFERENCES party_sessions(id) ON DELETE CASCADE,
		player_id TEXT NOT NULL,
		status TEXT NOT NULL,
		is_host INTEGER NOT NULL DEFAULT 0,
		prompts_submitted INTEGER NOT NULL DEFAULT 0,
		copies_submitted INTEGER NOT NULL DEFAULT 0,
		votes_submitted INTEGER NOT NULL DEFAULT 0,
		connected INTEGER NOT NULL DEFAULT 0,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, player_id)
	);
	CREATE INDEX IF NOT EXISTS idx_participants_player ON party_participants(player_id);
	`

	phraseCachesTable := `
	CREATE TABLE IF NOT EXISTS phrase_caches (
		id TEXT PRIMARY KEY,
		prompt_key TEXT NOT NULL UNIQUE,
		prompt_text TEXT NOT NULL DEFAULT '',
		phrases TEXT NOT NULL,    -- JSON array of validated candidates
		use_counts TEXT NOT NULL, -- JSON array parallel to phrases
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		used_for_backup_copy INTEGER NOT NULL DEFAULT 0,
		used_for_hint INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_phrase_caches_prompt ON phrase_caches(prompt_text);
	`

	resultViewsTable := `
	CREATE TABLE IF NOT EXISTS result_views (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		payout INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (player_id, ref_id)
	);
	`

	for _, table := range []string{
		playersTable,
		gameDataTable,
		aiRolesTable,
		roundsTable,
		phrasesetsTable,
		qfVotesTable,
		backronymSetsTable,
		backronymEntriesTable,
		backronymVotesTable,
		tlPromptsTable,
		tlRoundsTable,
		tlGuessesTable,
		tlAnswersTable,
		clustersTable,
		embeddingCacheTable,
		transactionsTable,
		sessionsTable,
		participantsTable,
		phraseCachesTable,
		resultViewsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return s.migrate()
}

// migrate adds columns introduced after the initial schema. Additive only.
func (s *Store) migrate() error {
	// No pending migrations; the hook stays so existing databases pick up
	// future additive columns the way the tables above were built.
	return nil
}
