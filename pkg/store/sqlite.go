// Package store persists the chain store to SQLite: loaded once at startup,
// flushed per dirty conversation on a checkpoint interval and at shutdown.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
	_ "modernc.org/sqlite"
)

// Gateway wraps the SQLite database holding every conversation's transition
// table, settings, and activity timestamps. WAL journaling gives atomic
// replace-on-write: a crash mid-flush never exposes a partial record.
type Gateway struct {
	db *sql.DB
}

// NewGateway creates/opens the database at path. Failure here is the one
// fatal persistence error; everything later is isolated per conversation.
func NewGateway(path string) (*Gateway, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process bot. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	gw := &Gateway{db: db}
	if err := gw.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *Gateway) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			chat_id TEXT PRIMARY KEY,
			markov_order INTEGER NOT NULL DEFAULT 2,
			random_reply_chance REAL NOT NULL DEFAULT 0,
			inactivity_threshold_sec INTEGER NOT NULL DEFAULT 0,
			word_from_user_chance REAL NOT NULL DEFAULT 0,
			last_message_ms INTEGER NOT NULL DEFAULT 0,
			last_utterance_ms INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			chat_id TEXT NOT NULL,
			prefix TEXT NOT NULL,
			next_token TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (chat_id, prefix, next_token)
		);`,
		`CREATE INDEX IF NOT EXISTS transitions_chat_idx ON transitions(chat_id, prefix);`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LoadAll restores every persisted conversation into the chain store. A
// corrupt record for one conversation is logged and skipped; it never
// blocks the others from loading.
func (g *Gateway) LoadAll(ctx context.Context, ms *markov.Store) (int, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT chat_id, markov_order, random_reply_chance,
		inactivity_threshold_sec, word_from_user_chance, last_message_ms, last_utterance_ms
		FROM conversations`)
	if err != nil {
		return 0, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var snaps []markov.Snapshot
	for rows.Next() {
		var (
			snap         markov.Snapshot
			order        int
			thresholdSec int
			lastMsgMS    int64
			lastUttMS    int64
		)
		if err := rows.Scan(&snap.ID, &order, &snap.Settings.RandomReplyChance,
			&thresholdSec, &snap.Settings.WordFromUserChance, &lastMsgMS, &lastUttMS); err != nil {
			logger.WarnCF("store", "Skipping unreadable conversation row", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		snap.Settings.Order = order
		snap.Settings.InactivityThreshold = time.Duration(thresholdSec) * time.Second
		if lastMsgMS > 0 {
			snap.LastMessage = time.UnixMilli(lastMsgMS)
		}
		if lastUttMS > 0 {
			snap.LastUtterance = time.UnixMilli(lastUttMS)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate conversations: %w", err)
	}

	loaded := 0
	for i := range snaps {
		snap := &snaps[i]
		table, err := g.loadTransitions(ctx, snap.ID)
		if err != nil {
			logger.WarnCF("store", "Skipping conversation with unreadable transitions", map[string]any{
				"conversation": snap.ID,
				"error":        err.Error(),
			})
			continue
		}
		snap.Transitions = table
		ms.Restore(*snap)
		loaded++
	}
	return loaded, nil
}

func (g *Gateway) loadTransitions(ctx context.Context, chatID string) (map[string]map[string]int, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT prefix, next_token, count FROM transitions WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(map[string]map[string]int)
	for rows.Next() {
		var (
			prefix string
			next   string
			count  int
		)
		if err := rows.Scan(&prefix, &next, &count); err != nil {
			return nil, err
		}
		if count < 1 {
			continue
		}
		succ, ok := table[prefix]
		if !ok {
			succ = make(map[string]int)
			table[prefix] = succ
		}
		succ[next] = count
	}
	return table, rows.Err()
}

// FlushConversation writes one conversation's full snapshot in a single
// transaction: settings row upserted, transitions replaced wholesale.
func (g *Gateway) FlushConversation(ctx context.Context, snap markov.Snapshot) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer tx.Rollback()

	var lastMsgMS, lastUttMS int64
	if !snap.LastMessage.IsZero() {
		lastMsgMS = snap.LastMessage.UnixMilli()
	}
	if !snap.LastUtterance.IsZero() {
		lastUttMS = snap.LastUtterance.UnixMilli()
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations
		(chat_id, markov_order, random_reply_chance, inactivity_threshold_sec,
		 word_from_user_chance, last_message_ms, last_utterance_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			markov_order = excluded.markov_order,
			random_reply_chance = excluded.random_reply_chance,
			inactivity_threshold_sec = excluded.inactivity_threshold_sec,
			word_from_user_chance = excluded.word_from_user_chance,
			last_message_ms = excluded.last_message_ms,
			last_utterance_ms = excluded.last_utterance_ms,
			updated_at_ms = excluded.updated_at_ms`,
		snap.ID, snap.Settings.Order, snap.Settings.RandomReplyChance,
		int(snap.Settings.InactivityThreshold/time.Second), snap.Settings.WordFromUserChance,
		lastMsgMS, lastUttMS, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert conversation %s: %w", snap.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE chat_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear transitions %s: %w", snap.ID, err)
	}

	const insert = `INSERT INTO transitions (chat_id, prefix, next_token, count) VALUES `
	args := make([]any, 0, 4*64)
	values := make([]string, 0, 64)
	flushBatch := func() error {
		if len(values) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, insert+strings.Join(values, ","), args...)
		values = values[:0]
		args = args[:0]
		return err
	}
	for prefix, succ := range snap.Transitions {
		for next, count := range succ {
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, snap.ID, prefix, next, count)
			if len(values) == 64 {
				if err := flushBatch(); err != nil {
					return fmt.Errorf("insert transitions %s: %w", snap.ID, err)
				}
			}
		}
	}
	if err := flushBatch(); err != nil {
		return fmt.Errorf("insert transitions %s: %w", snap.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush %s: %w", snap.ID, err)
	}
	return nil
}

// DeleteConversation removes a conversation's persisted state entirely.
func (g *Gateway) DeleteConversation(ctx context.Context, chatID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}
