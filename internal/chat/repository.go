package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the persistence contract the service needs. Repository implements
// it on Postgres, MemoryStore in process.
type Store interface {
	List(ctx context.Context) ([]Message, error)
	Get(ctx context.Context, id string) (*Message, error)
	Create(ctx context.Context, m *Message) error
	UpdateBody(ctx context.Context, id, body string, at time.Time) (*Message, error)
	SetPinned(ctx context.Context, id string, pinned bool) (*Message, error)
	Delete(ctx context.Context, id string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `id, name, email, image, message, is_reply, reply_to, is_show, is_pinned, metadata, created_at, updated_at`

const attachmentColumns = `id, message_id, file_name, file_data, storage_path, public_url, file_size, mime_type, attachment_type, duration_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		image     sql.NullString
		replyTo   sql.NullString
		metadata  []byte
		updatedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Name, &m.Email, &image, &m.Body, &m.IsReply, &replyTo,
		&m.IsShow, &m.IsPinned, &metadata, &m.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Image = image.String
	m.ReplyTo = replyTo.String
	if updatedAt.Valid {
		t := updatedAt.Time
		m.UpdatedAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	m.Attachments = []Attachment{}
	return &m, nil
}

func scanAttachment(row rowScanner) (Attachment, error) {
	var (
		a           Attachment
		fileData    sql.NullString
		storagePath sql.NullString
		publicURL   sql.NullString
		duration    sql.NullFloat64
	)
	err := row.Scan(&a.ID, &a.MessageID, &a.FileName, &fileData, &storagePath, &publicURL,
		&a.FileSize, &a.MimeType, &a.Type, &duration)
	if err != nil {
		return a, err
	}
	a.FileData = fileData.String
	a.StoragePath = storagePath.String
	a.PublicURL = publicURL.String
	if duration.Valid {
		d := duration.Float64
		a.DurationSeconds = &d
	}
	return a, nil
}

func (r *Repository) List(ctx context.Context) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	index := make(map[string]int)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		index[m.ID] = len(messages)
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := r.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		a, err := scanAttachment(arows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[a.MessageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, a)
		}
	}
	return messages, arows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE message_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		m.Attachments = append(m.Attachments, a)
	}
	return m, rows.Err()
}

// Create stores the message and its attachments in one transaction.
func (r *Repository) Create(ctx context.Context, m *Message) error {
	var metadata []byte
	if len(m.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Name, m.Email, nullString(m.Image), m.Body, m.IsReply, nullString(m.ReplyTo),
		m.IsShow, m.IsPinned, metadata, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, a := range m.Attachments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, user_email, file_name, file_data, storage_path,
			                         public_url, file_size, mime_type, attachment_type, duration_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, m.ID, m.Email, a.FileName, nullString(a.FileData), nullString(a.StoragePath),
			nullString(a.PublicURL), a.FileSize, a.MimeType, string(a.Type), a.DurationSeconds)
		if err != nil {
			return fmt.Errorf("insert attachment %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) UpdateBody(ctx context.Context, id, body string, at time.Time) (*Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET message = $2, updated_at = $3 WHERE id = $1`, id, body, at)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *Repository) SetPinned(ctx context.Context, id string, pinned bool) (*Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_pinned = $2 WHERE id = $1`, id, pinned)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes owned attachments first, then the message.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = $1`, id); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
