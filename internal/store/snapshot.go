package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/engine"
	"github.com/latticemem/lattice/internal/inject"
	"github.com/latticemem/lattice/internal/ledger"
)

// SaveSnapshot replaces the persisted state with the given snapshot in one
// transaction.
func (db *DB) SaveSnapshot(s *engine.Snapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"facets", "connections", "crystals",
		"turns", "threads", "cross_memory", "decisions",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := saveCrystals(tx, s); err != nil {
		return err
	}
	if err := saveThreads(tx, s); err != nil {
		return err
	}
	if err := saveProfile(tx, s.Profile); err != nil {
		return err
	}
	if err := saveSettings(tx, s.Settings); err != nil {
		return err
	}
	if err := saveCrossMemory(tx, s.CrossMem); err != nil {
		return err
	}
	if err := saveDecisions(tx, s.Decisions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func saveCrystals(tx *sql.Tx, s *engine.Snapshot) error {
	for _, c := range s.Crystals {
		internal := strings.Join(s.InternalLinks[c.ID], " ")
		if _, err := tx.Exec(`
			INSERT INTO crystals (id, concept, level, usage_count, internal_ids, created_at, last_used)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Concept, int(c.Level), c.UsageCount, internal,
			c.CreatedAt.UnixMilli(), c.LastUsed.UnixMilli(),
		); err != nil {
			return fmt.Errorf("save crystal %s: %w", c.ID, err)
		}

		for _, f := range c.Facets {
			fields := ""
			if f.Content.Kind == crystal.ContentStructured {
				b, err := json.Marshal(f.Content.Fields)
				if err != nil {
					return fmt.Errorf("marshal facet fields %s: %w", f.ID, err)
				}
				fields = string(b)
			}
			if _, err := tx.Exec(`
				INSERT INTO facets (
					id, crystal_id, role, kind, text_content, num_content, field_content,
					confidence, access_count, last_accessed, state,
					resonance, sensitivity, abstractness, potential,
					stability, coherence, complexity, frequency
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.CrystalID, f.Role, string(f.Content.Kind),
				f.Content.Text, f.Content.Number, fields,
				f.Confidence, f.AccessCount, f.LastAccessed.UnixMilli(), string(f.State),
				f.Resonance, f.Sensitivity, f.Abstractness, f.Potential,
				f.Stability, f.Coherence, f.Complexity, f.Frequency,
			); err != nil {
				return fmt.Errorf("save facet %s: %w", f.ID, err)
			}
		}

		for target, weight := range c.Connections {
			if _, err := tx.Exec(
				"INSERT INTO connections (crystal_id, target_id, weight) VALUES (?, ?, ?)",
				c.ID, target, weight,
			); err != nil {
				return fmt.Errorf("save connection %s->%s: %w", c.ID, target, err)
			}
		}
	}
	return nil
}

func saveThreads(tx *sql.Tx, s *engine.Snapshot) error {
	for _, t := range s.Threads {
		topics, err := json.Marshal(t.Topics)
		if err != nil {
			return fmt.Errorf("marshal topics %s: %w", t.ID, err)
		}
		active := 0
		if s.ActiveIDs[t.SourceID] == t.ID {
			active = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO threads (id, source_id, summary, topics, is_active, created_at, last_active)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SourceID, t.Summary, string(topics), active,
			t.CreatedAt.UnixMilli(), t.LastActive.UnixMilli(),
		); err != nil {
			return fmt.Errorf("save thread %s: %w", t.ID, err)
		}

		for _, turn := range t.Turns {
			if _, err := tx.Exec(
				"INSERT INTO turns (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)",
				t.ID, turn.Role, turn.Content, turn.Timestamp.UnixMilli(),
			); err != nil {
				return fmt.Errorf("save turn in %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

func saveProfile(tx *sql.Tx, p *ledger.Profile) error {
	if p == nil {
		return nil
	}
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}
	expertise, err := json.Marshal(p.ExpertiseAreas)
	if err != nil {
		return fmt.Errorf("marshal expertise: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO profile (id, interests, style, expertise) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET interests=excluded.interests, style=excluded.style, expertise=excluded.expertise`,
		string(interests), p.CommunicationStyle, string(expertise),
	); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func saveSettings(tx *sql.Tx, s ledger.Settings) error {
	if _, err := tx.Exec(`
		INSERT INTO settings (id, injection_strength, enabled, isolation_mode, cross_source_insights, max_context_tokens, compression_level)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			injection_strength=excluded.injection_strength,
			enabled=excluded.enabled,
			isolation_mode=excluded.isolation_mode,
			cross_source_insights=excluded.cross_source_insights,
			max_context_tokens=excluded.max_context_tokens,
			compression_level=excluded.compression_level`,
		s.InjectionStrength, boolInt(s.Enabled), boolInt(s.IsolationMode),
		boolInt(s.CrossSourceInsights), s.MaxContextTokens, s.CompressionLevel,
	); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func saveCrossMemory(tx *sql.Tx, entries []ledger.CrossEntry) error {
	for _, e := range entries {
		if _, err := tx.Exec(
			"INSERT INTO cross_memory (source, topic, created_at) VALUES (?, ?, ?)",
			e.Source, e.Topic, e.Timestamp.UnixMilli(),
		); err != nil {
			return fmt.Errorf("save cross memory: %w", err)
		}
	}
	return nil
}

func saveDecisions(tx *sql.Tx, ds []inject.Decision) error {
	for _, d := range ds {
		if _, err := tx.Exec(`
			INSERT INTO decisions (
				created_at, message, platform, outcome, reason,
				relevance, threshold, topics_found, facts_found, crystals_found,
				nodes_checked, nodes_matched, context_preview
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Timestamp.UnixMilli(), d.Message, d.Platform, d.Outcome, d.Reason,
			d.Relevance, d.Threshold, d.TopicsFound, d.FactsFound, d.CrystalsFound,
			d.NodesChecked, d.NodesMatched, d.ContextPreview,
		); err != nil {
			return fmt.Errorf("save decision: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads the full persisted state. An empty database yields a
// snapshot with default settings and no data.
func (db *DB) LoadSnapshot() (*engine.Snapshot, error) {
	s := &engine.Snapshot{
		InternalLinks: make(map[string][]string),
		ActiveIDs:     make(map[string]string),
		Settings:      ledger.DefaultSettings(),
	}

	if err := db.loadCrystals(s); err != nil {
		return nil, err
	}
	if err := db.loadThreads(s); err != nil {
		return nil, err
	}
	if err := db.loadProfile(s); err != nil {
		return nil, err
	}
	if err := db.loadSettings(s); err != nil {
		return nil, err
	}
	if err := db.loadCrossMemory(s); err != nil {
		return nil, err
	}
	if err := db.loadDecisions(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (db *DB) loadCrystals(s *engine.Snapshot) error {
	rows, err := db.Query("SELECT id, concept, level, usage_count, internal_ids, created_at, last_used FROM crystals")
	if err != nil {
		return fmt.Errorf("load crystals: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*crystal.Crystal)
	for rows.Next() {
		var (
			c                  crystal.Crystal
			level              int
			internal           string
			createdAt, lastUse int64
		)
		if err := rows.Scan(&c.ID, &c.Concept, &level, &c.UsageCount, &internal, &createdAt, &lastUse); err != nil {
			return fmt.Errorf("scan crystal: %w", err)
		}
		c.Level = crystal.Level(level)
		c.CreatedAt = time.UnixMilli(createdAt)
		c.LastUsed = time.UnixMilli(lastUse)
		c.Facets = make(map[string]*crystal.Facet)
		c.Connections = make(map[string]float64)
		if internal != "" {
			s.InternalLinks[c.ID] = strings.Fields(internal)
		}
		byID[c.ID] = &c
		s.Crystals = append(s.Crystals, &c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate crystals: %w", err)
	}

	if err := db.loadFacets(byID); err != nil {
		return err
	}
	return db.loadConnections(byID)
}

func (db *DB) loadFacets(byID map[string]*crystal.Crystal) error {
	rows, err := db.Query(`
		SELECT id, crystal_id, role, kind, text_content, num_content, field_content,
		       confidence, access_count, last_accessed, state,
		       resonance, sensitivity, abstractness, potential,
		       stability, coherence, complexity, frequency
		FROM facets`)
	if err != nil {
		return fmt.Errorf("load facets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f            crystal.Facet
			kind, state  string
			text, fields string
			num          float64
			lastAccess   int64
		)
		if err := rows.Scan(
			&f.ID, &f.CrystalID, &f.Role, &kind, &text, &num, &fields,
			&f.Confidence, &f.AccessCount, &lastAccess, &state,
			&f.Resonance, &f.Sensitivity, &f.Abstractness, &f.Potential,
			&f.Stability, &f.Coherence, &f.Complexity, &f.Frequency,
		); err != nil {
			return fmt.Errorf("scan facet: %w", err)
		}
		f.LastAccessed = time.UnixMilli(lastAccess)
		f.State = crystal.FacetState(state)
		f.Content = crystal.Content{Kind: crystal.ContentKind(kind), Text: text, Number: num}
		if f.Content.Kind == crystal.ContentStructured && fields != "" {
			if err := json.Unmarshal([]byte(fields), &f.Content.Fields); err != nil {
				return fmt.Errorf("unmarshal facet fields %s: %w", f.ID, err)
			}
		}

		if c, ok := byID[f.CrystalID]; ok {
			facet := f
			c.Facets[facet.ID] = &facet
		}
	}
	return rows.Err()
}

func (db *DB) loadConnections(byID map[string]*crystal.Crystal) error {
	rows, err := db.Query("SELECT crystal_id, target_id, weight FROM connections")
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		var weight float64
		if err := rows.Scan(&from, &to, &weight); err != nil {
			return fmt.Errorf("scan connection: %w", err)
		}
		if c, ok := byID[from]; ok {
			c.Connections[to] = weight
		}
	}
	return rows.Err()
}

func (db *DB) loadThreads(s *engine.Snapshot) error {
	rows, err := db.Query("SELECT id, source_id, summary, topics, is_active, created_at, last_active FROM threads")
	if err != nil {
		return fmt.Errorf("load threads: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ledger.Thread)
	for rows.Next() {
		var (
			t                   ledger.Thread
			topics              string
			active              int
			createdAt, lastSeen int64
		)
		if err := rows.Scan(&t.ID, &t.SourceID, &t.Summary, &topics, &active, &createdAt, &lastSeen); err != nil {
			return fmt.Errorf("scan thread: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &t.Topics); err != nil {
			return fmt.Errorf("unmarshal topics %s: %w", t.ID, err)
		}
		t.CreatedAt = time.UnixMilli(createdAt)
		t.LastActive = time.UnixMilli(lastSeen)
		if active == 1 {
			s.ActiveIDs[t.SourceID] = t.ID
		}
		byID[t.ID] = &t
		s.Threads = append(s.Threads, &t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate threads: %w", err)
	}

	turnRows, err := db.Query("SELECT thread_id, role, content, created_at FROM turns ORDER BY id")
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	defer turnRows.Close()

	for turnRows.Next() {
		var (
			threadID  string
			turn      ledger.Turn
			createdAt int64
		)
		if err := turnRows.Scan(&threadID, &turn.Role, &turn.Content, &createdAt); err != nil {
			return fmt.Errorf("scan turn: %w", err)
		}
		turn.Timestamp = time.UnixMilli(createdAt)
		turn.ThreadID = threadID
		if t, ok := byID[threadID]; ok {
			turn.SourceID = t.SourceID
			t.Turns = append(t.Turns, turn)
		}
	}
	return turnRows.Err()
}

func (db *DB) loadProfile(s *engine.Snapshot) error {
	var interests, style, expertise string
	err := db.QueryRow("SELECT interests, style, expertise FROM profile WHERE id = 1").
		Scan(&interests, &style, &expertise)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	p := ledger.NewProfile()
	p.CommunicationStyle = style
	if err := json.Unmarshal([]byte(interests), &p.Interests); err != nil {
		return fmt.Errorf("unmarshal interests: %w", err)
	}
	if err := json.Unmarshal([]byte(expertise), &p.ExpertiseAreas); err != nil {
		return fmt.Errorf("unmarshal expertise: %w", err)
	}
	s.Profile = p
	return nil
}

func (db *DB) loadSettings(s *engine.Snapshot) error {
	var enabled, isolation, cross int
	err := db.QueryRow(`
		SELECT injection_strength, enabled, isolation_mode, cross_source_insights, max_context_tokens, compression_level
		FROM settings WHERE id = 1`).
		Scan(&s.Settings.InjectionStrength, &enabled, &isolation, &cross,
			&s.Settings.MaxContextTokens, &s.Settings.CompressionLevel)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.Settings.Enabled = enabled == 1
	s.Settings.IsolationMode = isolation == 1
	s.Settings.CrossSourceInsights = cross == 1
	return nil
}

func (db *DB) loadCrossMemory(s *engine.Snapshot) error {
	rows, err := db.Query("SELECT source, topic, created_at FROM cross_memory ORDER BY id")
	if err != nil {
		return fmt.Errorf("load cross memory: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ledger.CrossEntry
		var createdAt int64
		if err := rows.Scan(&e.Source, &e.Topic, &createdAt); err != nil {
			return fmt.Errorf("scan cross memory: %w", err)
		}
		e.Timestamp = time.UnixMilli(createdAt)
		s.CrossMem = append(s.CrossMem, e)
	}
	return rows.Err()
}

func (db *DB) loadDecisions(s *engine.Snapshot) error {
	rows, err := db.Query(`
		SELECT created_at, message, platform, outcome, reason,
		       relevance, threshold, topics_found, facts_found, crystals_found,
		       nodes_checked, nodes_matched, context_preview
		FROM decisions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d inject.Decision
		var createdAt int64
		if err := rows.Scan(
			&createdAt, &d.Message, &d.Platform, &d.Outcome, &d.Reason,
			&d.Relevance, &d.Threshold, &d.TopicsFound, &d.FactsFound, &d.CrystalsFound,
			&d.NodesChecked, &d.NodesMatched, &d.ContextPreview,
		); err != nil {
			return fmt.Errorf("scan decision: %w", err)
		}
		d.Timestamp = time.UnixMilli(createdAt)
		s.Decisions = append(s.Decisions, d)
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
