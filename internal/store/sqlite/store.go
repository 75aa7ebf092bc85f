package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailweave/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS characters (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	archetype TEXT NOT NULL,
	mood TEXT NOT NULL DEFAULT '',
	frequency REAL NOT NULL DEFAULT 0,
	voice TEXT NOT NULL,
	goals TEXT NOT NULL,
	knowledge TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	thesis TEXT NOT NULL DEFAULT '',
	claims TEXT NOT NULL,
	concepts TEXT NOT NULL,
	themes TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	participants TEXT NOT NULL,
	origin_type TEXT NOT NULL,
	related_tensions TEXT NOT NULL,
	created_tick INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	from_character TEXT NOT NULL,
	to_characters TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	sent_at INTEGER NOT NULL,
	generated_at INTEGER NOT NULL,
	in_reply_to TEXT NOT NULL DEFAULT '',
	folder TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT '',
	tick INTEGER NOT NULL DEFAULT 0,
	fallback INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(thread_id) REFERENCES threads(id)
);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_emails_folder ON emails(folder, sent_at);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	tick INTEGER NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	participants TEXT NOT NULL,
	email_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);

CREATE TABLE IF NOT EXISTS tensions (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	participants TEXT NOT NULL,
	intensity REAL NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ticks (
	tick INTEGER PRIMARY KEY,
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	events_planned INTEGER NOT NULL,
	emails_generated INTEGER NOT NULL,
	tensions_resolved INTEGER NOT NULL,
	fallback_emails INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	cost REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticks INTEGER NOT NULL,
	emails INTEGER NOT NULL,
	stop_reason TEXT NOT NULL,
	total_cost REAL NOT NULL,
	finished_at INTEGER NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveWorld persists the final world snapshot plus a run summary row.
// Rows are upserted so a resumed run overwrites its earlier snapshot.
func (s *Store) SaveWorld(ctx context.Context, w *domain.WorldState, reason domain.StopReason, totalCost float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save world: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range w.Characters {
		if err := insertCharacter(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, d := range w.Documents {
		if err := insertDocument(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, th := range w.Threads {
		if err := insertThread(ctx, tx, th); err != nil {
			return err
		}
	}
	for _, em := range w.Emails {
		if err := insertEmail(ctx, tx, em); err != nil {
			return err
		}
	}
	for _, ev := range w.Events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	for _, tn := range w.Tensions {
		if err := insertTension(ctx, tx, tn); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO runs(ticks, emails, stop_reason, total_cost, finished_at)
		VALUES(?, ?, ?, ?, ?)`,
		w.Tick, len(w.Emails), string(reason), totalCost, time.Now().UTC().Unix(),
	); err != nil {
		return fmt.Errorf("insert run summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save world: %w", err)
	}
	return nil
}

func (s *Store) SaveTick(ctx context.Context, tr domain.TickResult) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO ticks(
			tick, window_start, window_end, events_planned, emails_generated,
			tensions_resolved, fallback_emails, duration_ms, cost
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Tick, tr.WindowStart.Unix(), tr.WindowEnd.Unix(),
		tr.Metrics.EventsPlanned, tr.Metrics.EmailsGenerated,
		tr.Metrics.TensionsResolved, tr.Metrics.FallbackEmails,
		tr.Metrics.Duration.Milliseconds(), tr.Metrics.Cost,
	)
	if err != nil {
		return fmt.Errorf("save tick %d: %w", tr.Tick, err)
	}
	return nil
}

func insertCharacter(ctx context.Context, tx *sql.Tx, c domain.Character) error {
	voice, err := json.Marshal(c.Voice)
	if err != nil {
		return fmt.Errorf("marshal voice for %s: %w", c.ID, err)
	}
	goals, err := json.Marshal(c.Goals)
	if err != nil {
		return fmt.Errorf("marshal goals for %s: %w", c.ID, err)
	}
	knowledge, err := json.Marshal(c.Knowledge)
	if err != nil {
		return fmt.Errorf("marshal knowledge for %s: %w", c.ID, err)
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO characters(id, name, address, archetype, mood, frequency, voice, goals, knowledge)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Address, string(c.Archetype), c.Mood, c.Frequency,
		string(voice), string(goals), string(knowledge),
	)
	if err != nil {
		return fmt.Errorf("insert character %s: %w", c.ID, err)
	}
	return nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	claims, _ := json.Marshal(d.Claims)
	concepts, _ := json.Marshal(d.Concepts)
	themes, _ := json.Marshal(d.Themes)
	_, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO documents(id, title, thesis, claims, concepts, themes)
		VALUES(?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Thesis, string(claims), string(concepts), string(themes),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

func insertThread(ctx context.Context, tx *sql.Tx, th domain.Thread) error {
	participants, _ := json.Marshal(th.Participants)
	related, _ := json.Marshal(th.RelatedTensions)
	_, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO threads(id, subject, participants, origin_type, related_tensions, created_tick)
		VALUES(?, ?, ?, ?, ?, ?)`,
		th.ID, th.Subject, string(participants), string(th.OriginType), string(related), th.CreatedTick,
	)
	if err != nil {
		return fmt.Errorf("insert thread %s: %w", th.ID, err)
	}
	return nil
}

func insertEmail(ctx context.Context, tx *sql.Tx, em domain.Email) error {
	to, _ := json.Marshal(em.To)
	fallback := 0
	if em.Provenance.Fallback {
		fallback = 1
	}
	_, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO emails(
			id, thread_id, from_character, to_characters, subject, body,
			sent_at, generated_at, in_reply_to, folder, provider, event_type, tick, fallback
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		em.ID, em.ThreadID, em.From, string(to), em.Subject, em.Body,
		em.SentAt.Unix(), em.GeneratedAt.Unix(), em.InReplyTo, string(em.Folder),
		em.Provenance.Provider, string(em.Provenance.EventType), em.Provenance.Tick, fallback,
	)
	if err != nil {
		return fmt.Errorf("insert email %s: %w", em.ID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	participants, _ := json.Marshal(ev.Participants)
	_, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO events(id, tick, type, description, participants, email_id)
		VALUES(?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Tick, string(ev.Type), ev.Description, string(participants), ev.EmailID,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func insertTension(ctx context.Context, tx *sql.Tx, tn domain.Tension) error {
	participants, _ := json.Marshal(tn.Participants)
	_, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO tensions(id, description, participants, intensity, status)
		VALUES(?, ?, ?, ?, ?)`,
		tn.ID, tn.Description, string(participants), tn.Intensity, string(tn.Status),
	)
	if err != nil {
		return fmt.Errorf("insert tension %s: %w", tn.ID, err)
	}
	return nil
}

// ListFolders returns every folder that has at least one email, with
// message counts, ordered by name.
func (s *Store) ListFolders(ctx context.Context) (map[domain.Folder]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT folder, COUNT(*) FROM emails GROUP BY folder ORDER BY folder`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.Folder]int)
	for rows.Next() {
		var folder string
		var count int
		if err := rows.Scan(&folder, &count); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		result[domain.Folder(folder)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return result, nil
}

func (s *Store) ListEmails(ctx context.Context, folder domain.Folder) ([]domain.Email, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, thread_id, from_character, to_characters, subject, body,
			sent_at, generated_at, in_reply_to, folder, provider, event_type, tick, fallback
		FROM emails
		WHERE folder = ?
		ORDER BY sent_at ASC`,
		string(folder),
	)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Email, 0)
	for rows.Next() {
		em, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return result, nil
}

func (s *Store) ListThreadEmails(ctx context.Context, threadID string) ([]domain.Email, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, thread_id, from_character, to_characters, subject, body,
			sent_at, generated_at, in_reply_to, folder, provider, event_type, tick, fallback
		FROM emails
		WHERE thread_id = ?
		ORDER BY sent_at ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list thread emails: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Email, 0)
	for rows.Next() {
		em, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread emails: %w", err)
	}
	return result, nil
}

func (s *Store) GetCharacter(ctx context.Context, id string) (domain.Character, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, address, archetype, mood, frequency, voice, goals, knowledge
		FROM characters WHERE id = ?`,
		id,
	)
	var c domain.Character
	var archetype, voice, goals, knowledge string
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &archetype, &c.Mood, &c.Frequency, &voice, &goals, &knowledge); err != nil {
		return domain.Character{}, fmt.Errorf("get character: %w", err)
	}
	c.Archetype = domain.Archetype(archetype)
	if err := json.Unmarshal([]byte(voice), &c.Voice); err != nil {
		return domain.Character{}, fmt.Errorf("decode voice for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(goals), &c.Goals); err != nil {
		return domain.Character{}, fmt.Errorf("decode goals for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(knowledge), &c.Knowledge); err != nil {
		return domain.Character{}, fmt.Errorf("decode knowledge for %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListCharacters(ctx context.Context) ([]domain.Character, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM characters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan character id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}

	result := make([]domain.Character, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCharacter(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *Store) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT t.id, t.subject, t.participants, t.origin_type, t.related_tensions, t.created_tick
		FROM threads t
		ORDER BY t.created_tick ASC, t.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Thread, 0)
	for rows.Next() {
		var th domain.Thread
		var participants, origin, related string
		if err := rows.Scan(&th.ID, &th.Subject, &participants, &origin, &related, &th.CreatedTick); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		th.OriginType = domain.OriginType(origin)
		if err := json.Unmarshal([]byte(participants), &th.Participants); err != nil {
			return nil, fmt.Errorf("decode thread participants: %w", err)
		}
		if err := json.Unmarshal([]byte(related), &th.RelatedTensions); err != nil {
			return nil, fmt.Errorf("decode thread tensions: %w", err)
		}
		result = append(result, th)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	// Email membership is rebuilt from the emails table rather than
	// persisted on the thread row, so the two can never disagree.
	for i := range result {
		emails, err := s.ListThreadEmails(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		for _, em := range emails {
			result[i].EmailIDs = append(result[i].EmailIDs, em.ID)
		}
	}
	return result, nil
}

func (s *Store) ListTicks(ctx context.Context) ([]domain.TickResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT tick, window_start, window_end, events_planned, emails_generated,
			tensions_resolved, fallback_emails, duration_ms, cost
		FROM ticks ORDER BY tick ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TickResult, 0)
	for rows.Next() {
		var tr domain.TickResult
		var start, end, durationMS int64
		if err := rows.Scan(
			&tr.Tick, &start, &end, &tr.Metrics.EventsPlanned, &tr.Metrics.EmailsGenerated,
			&tr.Metrics.TensionsResolved, &tr.Metrics.FallbackEmails, &durationMS, &tr.Metrics.Cost,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		tr.WindowStart = unixToTime(start)
		tr.WindowEnd = unixToTime(end)
		tr.Metrics.Duration = time.Duration(durationMS) * time.Millisecond
		result = append(result, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return result, nil
}

func scanEmail(rows *sql.Rows) (domain.Email, error) {
	var em domain.Email
	var to, folder, eventType string
	var sentAt, generatedAt int64
	var fallback int
	if err := rows.Scan(
		&em.ID, &em.ThreadID, &em.From, &to, &em.Subject, &em.Body,
		&sentAt, &generatedAt, &em.InReplyTo, &folder,
		&em.Provenance.Provider, &eventType, &em.Provenance.Tick, &fallback,
	); err != nil {
		return domain.Email{}, fmt.Errorf("scan email: %w", err)
	}
	if err := json.Unmarshal([]byte(to), &em.To); err != nil {
		return domain.Email{}, fmt.Errorf("decode email recipients: %w", err)
	}
	em.SentAt = unixToTime(sentAt)
	em.GeneratedAt = unixToTime(generatedAt)
	em.Folder = domain.Folder(folder)
	em.Provenance.EventType = domain.EventType(eventType)
	em.Provenance.Fallback = fallback != 0
	em.Provenance.CharacterID = em.From
	return em, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
