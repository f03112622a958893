package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/sendqueue"
)

// Schema for the node database. Message ids and window bitmaps are 64-bit
// unsigned values stored two's-complement in INTEGER columns.
const schema = `
CREATE TABLE IF NOT EXISTS peers (
    id                TEXT PRIMARY KEY,
    follower_id       INTEGER,
    stage             INTEGER NOT NULL,
    display_name      TEXT NOT NULL,
    salt              BLOB,
    pairing_topic     TEXT NOT NULL,
    private_key       BLOB,
    public_key        BLOB,
    peer_public_key   BLOB,
    verification_data BLOB,
    local_verified    INTEGER NOT NULL,
    peer_verified     INTEGER NOT NULL,
    ingoing_topic     TEXT NOT NULL,
    outgoing_topic    TEXT NOT NULL,
    paired_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS current_command (
    id    INTEGER PRIMARY KEY CHECK (id = 1),
    state BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS send_queue (
    peer_id      TEXT NOT NULL,
    message_id   INTEGER NOT NULL,
    topic        TEXT NOT NULL,
    collapse_key TEXT NOT NULL,
    queued_at    INTEGER NOT NULL,
    ttl_ms       INTEGER NOT NULL,
    payload      BLOB NOT NULL,
    PRIMARY KEY (peer_id, message_id)
);

CREATE TABLE IF NOT EXISTS sequence_state (
    peer_id       TEXT PRIMARY KEY,
    outgoing      INTEGER NOT NULL,
    in_init       INTEGER NOT NULL,
    in_latest     INTEGER NOT NULL,
    in_bitmap     INTEGER NOT NULL,
    status_init   INTEGER NOT NULL,
    status_latest INTEGER NOT NULL,
    status_bitmap INTEGER NOT NULL
);
`

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db      *sql.DB
	initSeq func() uint64
}

// OpenSQLite opens or creates the node database at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restrict store permissions: %w", err)
	}
	return &SQLite{db: db, initSeq: randomOutgoingInit}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SavePeer(d *peer.Device) error {
	var followerID sql.NullInt64
	if d.FollowerID != nil {
		followerID = sql.NullInt64{Int64: int64(*d.FollowerID), Valid: true}
	}
	var pairedAt int64
	if !d.PairedAt.IsZero() {
		pairedAt = d.PairedAt.UnixMilli()
	}

	_, err := s.db.Exec(`
		INSERT INTO peers (
			id, follower_id, stage, display_name, salt, pairing_topic,
			private_key, public_key, peer_public_key, verification_data,
			local_verified, peer_verified, ingoing_topic, outgoing_topic, paired_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			follower_id = excluded.follower_id,
			stage = excluded.stage,
			display_name = excluded.display_name,
			salt = excluded.salt,
			pairing_topic = excluded.pairing_topic,
			private_key = excluded.private_key,
			public_key = excluded.public_key,
			peer_public_key = excluded.peer_public_key,
			verification_data = excluded.verification_data,
			local_verified = excluded.local_verified,
			peer_verified = excluded.peer_verified,
			ingoing_topic = excluded.ingoing_topic,
			outgoing_topic = excluded.outgoing_topic,
			paired_at = excluded.paired_at`,
		d.ID.String(), followerID, int(d.Stage), d.DisplayName, d.Salt, d.PairingTopic,
		d.PrivateKey, d.PublicKey, d.PeerPublicKey, d.VerificationData,
		boolInt(d.HasLocalVerified), boolInt(d.HasPeerVerified),
		d.IngoingTopic, d.OutgoingTopic, pairedAt,
	)
	if err != nil {
		return fmt.Errorf("save peer: %w", err)
	}
	return nil
}

func (s *SQLite) LoadPeers() ([]*peer.Device, error) {
	rows, err := s.db.Query(`
		SELECT id, follower_id, stage, display_name, salt, pairing_topic,
			private_key, public_key, peer_public_key, verification_data,
			local_verified, peer_verified, ingoing_topic, outgoing_topic, paired_at
		FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}
	defer rows.Close()

	var devices []*peer.Device
	for rows.Next() {
		var (
			id           string
			followerID   sql.NullInt64
			stage        int
			local, peer2 int
			pairedAt     int64
			d            peer.Device
		)
		err := rows.Scan(
			&id, &followerID, &stage, &d.DisplayName, &d.Salt, &d.PairingTopic,
			&d.PrivateKey, &d.PublicKey, &d.PeerPublicKey, &d.VerificationData,
			&local, &peer2, &d.IngoingTopic, &d.OutgoingTopic, &pairedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		d.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse peer id: %w", err)
		}
		if followerID.Valid {
			fid := uint32(followerID.Int64)
			d.FollowerID = &fid
		}
		d.Stage = peer.Stage(stage)
		d.HasLocalVerified = local != 0
		d.HasPeerVerified = peer2 != 0
		if pairedAt != 0 {
			d.PairedAt = time.UnixMilli(pairedAt)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

func (s *SQLite) DeletePeer(id uuid.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM peers WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	return nil
}

// The command slot is a tagged union with nested message payloads, so it
// is stored as one JSON document rather than unpacked into columns.
func (s *SQLite) SaveCommand(state *command.State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode command state: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO current_command (id, state) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state`, blob)
	if err != nil {
		return fmt.Errorf("save command state: %w", err)
	}
	return nil
}

func (s *SQLite) LoadCommand() (*command.State, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT state FROM current_command WHERE id = 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load command state: %w", err)
	}
	var state command.State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode command state: %w", err)
	}
	return &state, nil
}

func (s *SQLite) ClearCommand() error {
	if _, err := s.db.Exec(`DELETE FROM current_command WHERE id = 1`); err != nil {
		return fmt.Errorf("clear command state: %w", err)
	}
	return nil
}

func (s *SQLite) InsertQueueEntry(e *sendqueue.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	if e.CollapseKey != "" {
		_, err = tx.Exec(`DELETE FROM send_queue WHERE peer_id = ? AND collapse_key = ?`,
			e.PeerID.String(), e.CollapseKey)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("collapse queue entry: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT INTO send_queue (peer_id, message_id, topic, collapse_key, queued_at, ttl_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PeerID.String(), int64(e.MessageID), e.Topic, e.CollapseKey,
		e.QueuedAt.UnixMilli(), e.TTL.Milliseconds(), e.Payload,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) NextQueueEntry() (*sendqueue.Entry, error) {
	row := s.db.QueryRow(`
		SELECT peer_id, message_id, topic, collapse_key, queued_at, ttl_ms, payload
		FROM send_queue ORDER BY queued_at ASC, message_id ASC LIMIT 1`)

	var (
		peerID    string
		messageID int64
		queuedAt  int64
		ttlMs     int64
		e         sendqueue.Entry
	)
	err := row.Scan(&peerID, &messageID, &e.Topic, &e.CollapseKey, &queuedAt, &ttlMs, &e.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queue entry: %w", err)
	}
	e.PeerID, err = uuid.Parse(peerID)
	if err != nil {
		return nil, fmt.Errorf("parse queue peer id: %w", err)
	}
	e.MessageID = uint64(messageID)
	e.QueuedAt = time.UnixMilli(queuedAt)
	e.TTL = time.Duration(ttlMs) * time.Millisecond
	return &e, nil
}

func (s *SQLite) RemoveQueueEntry(peerID uuid.UUID, messageID uint64) error {
	_, err := s.db.Exec(`DELETE FROM send_queue WHERE peer_id = ? AND message_id = ?`,
		peerID.String(), int64(messageID))
	if err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

func (s *SQLite) ExpireQueueEntries(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM send_queue WHERE queued_at + ttl_ms < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expire queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire queue entries: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) DeleteQueueForPeer(peerID uuid.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM send_queue WHERE peer_id = ?`, peerID.String()); err != nil {
		return fmt.Errorf("delete queue for peer: %w", err)
	}
	return nil
}

func (s *SQLite) NextOutgoingID(peerID uuid.UUID) (uint64, error) {
	var id uint64
	err := s.withSequenceState(peerID, func(state *sequenceState) {
		state.outgoing++
		id = state.outgoing
	})
	return id, err
}

func (s *SQLite) AcceptIngoing(peerID uuid.UUID, messageID uint64) (bool, error) {
	var fresh bool
	err := s.withSequenceState(peerID, func(state *sequenceState) {
		fresh = state.ingoing.accept(messageID)
	})
	return fresh, err
}

func (s *SQLite) AcceptStatus(peerID uuid.UUID, messageID uint64) (bool, error) {
	var fresh bool
	err := s.withSequenceState(peerID, func(state *sequenceState) {
		fresh = state.status.accept(messageID)
	})
	return fresh, err
}

func (s *SQLite) DeleteSequenceState(peerID uuid.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM sequence_state WHERE peer_id = ?`, peerID.String()); err != nil {
		return fmt.Errorf("delete sequence state: %w", err)
	}
	return nil
}

// withSequenceState runs a read-modify-write cycle on one peer's sequence
// row inside a transaction, creating the row on first use.
func (s *SQLite) withSequenceState(peerID uuid.UUID, fn func(*sequenceState)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sequence state: %w", err)
	}
	defer tx.Rollback()

	var (
		state              sequenceState
		inInit, statusInit int
		outgoing           int64
		inLatest, inBitmap int64
		stLatest, stBitmap int64
	)
	err = tx.QueryRow(`
		SELECT outgoing, in_init, in_latest, in_bitmap, status_init, status_latest, status_bitmap
		FROM sequence_state WHERE peer_id = ?`, peerID.String(),
	).Scan(&outgoing, &inInit, &inLatest, &inBitmap, &statusInit, &stLatest, &stBitmap)
	switch {
	case err == sql.ErrNoRows:
		state.outgoing = s.initSeq()
	case err != nil:
		return fmt.Errorf("load sequence state: %w", err)
	default:
		state.outgoing = uint64(outgoing)
		state.ingoing = replayWindow{initialized: inInit != 0, latest: uint64(inLatest), bitmap: uint64(inBitmap)}
		state.status = replayWindow{initialized: statusInit != 0, latest: uint64(stLatest), bitmap: uint64(stBitmap)}
	}

	fn(&state)

	_, err = tx.Exec(`
		INSERT INTO sequence_state (peer_id, outgoing, in_init, in_latest, in_bitmap, status_init, status_latest, status_bitmap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			outgoing = excluded.outgoing,
			in_init = excluded.in_init,
			in_latest = excluded.in_latest,
			in_bitmap = excluded.in_bitmap,
			status_init = excluded.status_init,
			status_latest = excluded.status_latest,
			status_bitmap = excluded.status_bitmap`,
		peerID.String(), int64(state.outgoing),
		boolInt(state.ingoing.initialized), int64(state.ingoing.latest), int64(state.ingoing.bitmap),
		boolInt(state.status.initialized), int64(state.status.latest), int64(state.status.bitmap),
	)
	if err != nil {
		return fmt.Errorf("save sequence state: %w", err)
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
