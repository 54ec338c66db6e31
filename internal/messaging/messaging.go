// Package messaging implements the file-backed message bus shared by every
// agent process. The bus is one JSON document; each mutation takes an
// exclusive lock on a sidecar file, rewrites the document to a temp file and
// renames it into place, so readers never observe a partial log.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/notify"
)

// DocumentVersion is the current on-disk format version.
const DocumentVersion = 1

// DefaultLockTimeout bounds how long a mutation waits for the bus lock.
const DefaultLockTimeout = 10 * time.Second

// Options configures a Bus.
type Options struct {
	LockTimeout time.Duration
	Notify      notify.Notifier // optional; see shouldNotify
}

// SendOpts holds optional parameters for sending a message.
type SendOpts struct {
	ReplyTo string
}

// Bus is a handle on one message bus log. It holds no in-memory state, so
// any number of handles across processes may share a log.
type Bus struct {
	path     string
	lockPath string
	opts     Options
	now      func() time.Time
}

type document struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Messages  []models.Message `json:"messages"`
}

// Open returns a Bus for the log at path, creating an empty log if none
// exists.
func Open(path string, opts Options) (*Bus, error) {
	if path == "" {
		return nil, fmt.Errorf("messaging: path is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("messaging: create dir: %w", err)
	}
	b := &Bus{path: path, lockPath: path + ".lock", opts: opts, now: time.Now}
	if err := b.update(context.Background(), "open", func(*document) (bool, error) {
		return false, nil
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the log file path.
func (b *Bus) Path() string { return b.path }

// Send appends a message and returns its id. A reply inherits the thread of
// the message it answers.
func (b *Bus) Send(ctx context.Context, from, to, msgType, subject, body, priority string, opts SendOpts) (string, error) {
	if from == "" {
		return "", fmt.Errorf("messaging: from is required")
	}
	if to == "" {
		return "", fmt.Errorf("messaging: to is required")
	}
	if subject == "" {
		return "", fmt.Errorf("messaging: subject is required")
	}
	if !models.ValidMessageType(msgType) {
		return "", fmt.Errorf("messaging: invalid message type %q", msgType)
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return "", fmt.Errorf("messaging: invalid priority %q", priority)
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      msgType,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Timestamp: b.now().UTC(),
		ReplyTo:   opts.ReplyTo,
	}
	msg.ThreadID = msg.ID

	err := b.update(ctx, "send", func(doc *document) (bool, error) {
		if opts.ReplyTo != "" {
			parent := find(doc.Messages, opts.ReplyTo)
			if parent == nil {
				return false, fmt.Errorf("%w: reply_to message %s", fault.ErrNotFound, opts.ReplyTo)
			}
			msg.ThreadID = parent.ThreadID
			if msg.ThreadID == "" {
				msg.ThreadID = parent.ID
			}
		}
		doc.Messages = append(doc.Messages, msg)
		return true, nil
	})
	if err != nil {
		return "", err
	}

	if b.opts.Notify != nil && shouldNotify(&msg) {
		b.notify(&msg)
	}
	return msg.ID, nil
}

// GetPending returns unread messages addressed to agent or to broadcast,
// in arrival order. Priority does not reorder the result.
func (b *Bus) GetPending(agent string) ([]models.Message, error) {
	if agent == "" {
		return nil, fmt.Errorf("messaging: agent is required")
	}
	doc, err := b.load("get pending")
	if err != nil {
		return nil, err
	}
	var pending []models.Message
	for _, m := range doc.Messages {
		if (m.To == agent || m.To == models.Broadcast) && !m.ReadByAgent(agent) {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// MarkRead marks a message read. Marking an already-read message is a
// no-op that keeps the original read time.
func (b *Bus) MarkRead(ctx context.Context, id string) error {
	return b.update(ctx, "mark read", func(doc *document) (bool, error) {
		m := find(doc.Messages, id)
		if m == nil {
			return false, fmt.Errorf("%w: message %s", fault.ErrNotFound, id)
		}
		if m.Read {
			return false, nil
		}
		now := b.now().UTC()
		m.Read = true
		m.ReadAt = &now
		return true, nil
	})
}

// MarkReadBy records that agent consumed a message without hiding it from
// other recipients. Broadcasts are acknowledged this way.
func (b *Bus) MarkReadBy(ctx context.Context, id, agent string) error {
	if agent == "" {
		return fmt.Errorf("messaging: agent is required")
	}
	return b.update(ctx, "mark read by", func(doc *document) (bool, error) {
		m := find(doc.Messages, id)
		if m == nil {
			return false, fmt.Errorf("%w: message %s", fault.ErrNotFound, id)
		}
		if m.ReadByAgent(agent) {
			return false, nil
		}
		m.ReadBy = append(m.ReadBy, agent)
		return true, nil
	})
}

// Ack marks msg consumed by agent: broadcasts per reader, direct messages
// globally.
func (b *Bus) Ack(ctx context.Context, msg models.Message, agent string) error {
	if msg.To == models.Broadcast {
		return b.MarkReadBy(ctx, msg.ID, agent)
	}
	return b.MarkRead(ctx, msg.ID)
}

// GetThread returns every message sharing id's thread, oldest first. An
// unknown id yields an empty result.
func (b *Bus) GetThread(id string) ([]models.Message, error) {
	doc, err := b.load("get thread")
	if err != nil {
		return nil, err
	}
	m := find(doc.Messages, id)
	if m == nil {
		return nil, nil
	}
	threadID := m.ThreadID
	if threadID == "" {
		threadID = m.ID
	}
	var thread []models.Message
	for _, x := range doc.Messages {
		if x.ThreadID == threadID || (x.ThreadID == "" && x.ID == threadID) {
			thread = append(thread, x)
		}
	}
	return thread, nil
}

// Get returns a single message by id.
func (b *Bus) Get(id string) (models.Message, error) {
	doc, err := b.load("get")
	if err != nil {
		return models.Message{}, err
	}
	m := find(doc.Messages, id)
	if m == nil {
		return models.Message{}, fmt.Errorf("messaging: get: %w: message %s", fault.ErrNotFound, id)
	}
	return *m, nil
}

// AllForAgent returns every message sent or received by agent, in log order.
func (b *Bus) AllForAgent(agent string) ([]models.Message, error) {
	doc, err := b.load("all for agent")
	if err != nil {
		return nil, err
	}
	var out []models.Message
	for _, m := range doc.Messages {
		if m.To == agent || m.From == agent {
			out = append(out, m)
		}
	}
	return out, nil
}

// Cleanup removes messages older than olderThan and returns how many were
// removed. olderThan must be positive.
func (b *Bus) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("messaging: cleanup: retention must be positive, got %s", olderThan)
	}
	cutoff := b.now().Add(-olderThan)
	removed := 0
	err := b.update(ctx, "cleanup", func(doc *document) (bool, error) {
		kept := doc.Messages[:0]
		for _, m := range doc.Messages {
			if m.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		doc.Messages = kept
		return removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// update runs one locked read-modify-write cycle. fn reports whether it
// changed the document; unchanged documents are not rewritten.
func (b *Bus) update(ctx context.Context, op string, fn func(doc *document) (bool, error)) error {
	unlock, err := acquireLock(ctx, b.lockPath, b.opts.LockTimeout)
	if err != nil {
		return fmt.Errorf("messaging: %s: %w", op, err)
	}
	defer unlock()

	doc, err := readDocument(b.path)
	created := false
	if errors.Is(err, os.ErrNotExist) {
		doc = &document{Version: DocumentVersion, CreatedAt: b.now().UTC(), Messages: []models.Message{}}
		created = true
	} else if err != nil {
		return fmt.Errorf("messaging: %s: %w", op, err)
	}

	changed, err := fn(doc)
	if err != nil {
		return fmt.Errorf("messaging: %s: %w", op, err)
	}
	if !changed && !created && doc.Version == DocumentVersion {
		return nil
	}
	doc.Version = DocumentVersion
	if err := writeDocument(b.path, doc); err != nil {
		return fmt.Errorf("messaging: %s: %w", op, err)
	}
	return nil
}

// load reads the log without the lock. A missing log reads as empty.
func (b *Bus) load(op string) (*document, error) {
	doc, err := readDocument(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Version: DocumentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: %s: %w", op, err)
	}
	return doc, nil
}

func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", fault.ErrCorruption, path, err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", fault.ErrCorruption, path, doc.Version)
	}
	return &doc, nil
}

// writeDocument replaces path atomically: temp file in the same directory,
// fsync, rename.
func writeDocument(path string, doc *document) error {
	if doc.Messages == nil {
		doc.Messages = []models.Message{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	return nil
}

func find(msgs []models.Message, id string) *models.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i]
		}
	}
	return nil
}
