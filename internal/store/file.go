package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per message plus a metadata file holding its
// checksum. Writes go through a temp file and an atomic rename.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
	now      func() time.Time
}

type fileMetadata struct {
	ID           string    `json:"id"`
	Checksum     string    `json:"checksum"`
	SavedAt      time.Time `json:"savedAt"`
	Version      string    `json:"version"`
	SegmentCount int       `json:"segmentCount"`
}

// NewFileStore creates the directory layout under basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path is required")
	}
	for _, dir := range []string{"messages", "metadata", "temp"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

func (fs *FileStore) messagePath(id string) string {
	return filepath.Join(fs.basePath, "messages", id+".json")
}

func (fs *FileStore) metadataPath(id string) string {
	return filepath.Join(fs.basePath, "metadata", id+".json")
}

// SaveMessage writes msg, replacing any previous version.
func (fs *FileStore) SaveMessage(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		if prev, err := fs.readMessage(msg.ID); err == nil {
			msg.CreatedAt = prev.CreatedAt
		}
	}
	stamp(&msg, fs.now())

	w, err := toWire(msg)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	tempPath := filepath.Join(fs.basePath, "temp", msg.ID+".tmp")
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	defer os.Remove(tempPath)

	meta := fileMetadata{
		ID:           msg.ID,
		Checksum:     checksum(data),
		SavedAt:      msg.UpdatedAt,
		Version:      "1.0",
		SegmentCount: len(msg.Segments),
	}
	if err := fs.writeMetadata(meta); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	if err := os.Rename(tempPath, fs.messagePath(msg.ID)); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// LoadMessage reads id and verifies its checksum.
func (fs *FileStore) LoadMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readMessage(id)
}

func (fs *FileStore) readMessage(id string) (Message, error) {
	data, err := os.ReadFile(fs.messagePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to read message: %w", err)
	}

	if meta, err := fs.readMetadata(id); err == nil && meta.Checksum != checksum(data) {
		return Message{}, fmt.Errorf("%w: %s", ErrCorrupted, id)
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return fromWire(w)
}

// ListMessages returns the messages of conversationID, oldest first. An empty
// conversationID lists every message.
func (fs *FileStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(fs.basePath, "messages"))
	if err != nil {
		return nil, fmt.Errorf("failed to read messages directory: %w", err)
	}

	var out []Message
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		msg, err := fs.readMessage(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if conversationID == "" || msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sortMessages(out)
	return out, nil
}

// ListConversations groups stored messages by conversation, most recent first.
func (fs *FileStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	msgs, err := fs.ListMessages(ctx, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Conversation)
	for _, msg := range msgs {
		c, ok := byID[msg.ConversationID]
		if !ok {
			c = &Conversation{ID: msg.ConversationID}
			byID[msg.ConversationID] = c
		}
		c.MessageCount++
		if msg.UpdatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = msg.UpdatedAt
		}
	}
	out := make([]Conversation, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// DeleteMessage removes id and its metadata.
func (fs *FileStore) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.messagePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if err := os.Remove(fs.metadataPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// Close is a no-op.
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) writeMetadata(meta fileMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fs.metadataPath(meta.ID), data, 0644)
}

func (fs *FileStore) readMetadata(id string) (fileMetadata, error) {
	var meta fileMetadata
	data, err := os.ReadFile(fs.metadataPath(id))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
