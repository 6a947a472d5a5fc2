// Package store implements the append-only, optionally encrypted
// conversation log of spec.md §4.8: one file per ChatMessage under
// <root>/Conversation/, read back via an ordered tail read that also serves
// as the LLM's context source. No teacher or pack repo implements an
// envelope-encrypted message log, so this package is new, built in the
// teacher's plain-stdlib style (no ecosystem AEAD/envelope library appears
// anywhere in the retrieval pack).
package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/elara-ai/elara-core/pkg/orchestrator"
)

const (
	algPlaintext = "PLAINTEXT"
	algAES256GCM = "AES-256-GCM"
)

// envelope is the on-disk wrapper around a serialized ChatMessage (spec.md
// §3's StoredEnvelope). Content holds either the raw ChatMessage JSON object
// (PLAINTEXT) or a base64-encoded ciphertext string (AES-256-GCM).
type envelope struct {
	Alg     string          `json:"alg"`
	IV      string          `json:"iv,omitempty"`
	Content json.RawMessage `json:"content"`
	Tag     string          `json:"tag,omitempty"`
}

// ConversationStore is the append-only per-message file log. It is safe for
// concurrent Append calls from a single process; the filename counter is
// the only shared mutable state and is updated atomically.
type ConversationStore struct {
	dir     string
	key     []byte // nil disables encryption; envelopes are written PLAINTEXT
	counter uint32
}

// New builds a ConversationStore rooted at <root>/Conversation. An empty
// root defaults to the OS cache directory. An empty encryptionKey disables
// encryption; otherwise the 256-bit key is SHA-256(UTF8(encryptionKey)).
func New(root, encryptionKey string) (*ConversationStore, error) {
	if root == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default storage root: %w", err)
		}
		root = filepath.Join(cacheDir, "elara-core")
	}

	dir := filepath.Join(root, "Conversation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation directory: %w", err)
	}

	var key []byte
	if encryptionKey != "" {
		sum := sha256.Sum256([]byte(encryptionKey))
		key = sum[:]
	}

	return &ConversationStore{dir: dir, key: key}, nil
}

// Append serializes msg, wraps it in the configured envelope, and writes it
// atomically (write-temp, rename). Write errors propagate wrapped in
// ErrStoreWrite; the caller (PromptOrchestrator) logs and returns the FSM
// to Listening regardless.
func (s *ConversationStore) Append(msg orchestrator.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal message: %v", orchestrator.ErrStoreWrite, err)
	}

	env, err := s.wrap(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrStoreWrite, err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", orchestrator.ErrStoreWrite, err)
	}

	path := filepath.Join(s.dir, s.filename(msg))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write temp file: %v", orchestrator.ErrStoreWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename temp file: %v", orchestrator.ErrStoreWrite, err)
	}
	return nil
}

// filename builds yyyyMMddTHHmmssfffZ_NNNN_{role}.json so lexicographic
// order equals chronological order; NNNN disambiguates same-millisecond
// writes via a process-local monotonic counter.
func (s *ConversationStore) filename(msg orchestrator.ChatMessage) string {
	seq := atomic.AddUint32(&s.counter, 1) % 10000
	ts := strings.ReplaceAll(msg.TimestampUtc.UTC().Format("20060102T150405.000Z"), ".", "")
	role := strings.ToLower(string(msg.Role))
	return fmt.Sprintf("%s_%04d_%s.json", ts, seq, role)
}

func (s *ConversationStore) wrap(payload []byte) (envelope, error) {
	if s.key == nil {
		return envelope{Alg: algPlaintext, Content: json.RawMessage(payload)}, nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return envelope{}, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return envelope{}, fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, payload, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	contentJSON, err := json.Marshal(base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		return envelope{}, fmt.Errorf("encode content: %w", err)
	}

	return envelope{
		Alg:     algAES256GCM,
		IV:      base64.StdEncoding.EncodeToString(nonce),
		Content: contentJSON,
		Tag:     base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// TailRead returns the last n messages in chronological order. It lists
// filenames, sorts descending, takes the first n, then re-sorts ascending;
// a single corrupt file is skipped rather than failing the whole read.
func (s *ConversationStore) TailRead(n int) ([]orchestrator.ChatMessage, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversation directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if n >= 0 && len(names) > n {
		names = names[:n]
	}
	sort.Strings(names)

	messages := make([]orchestrator.ChatMessage, 0, len(names))
	for _, name := range names {
		msg, ok := s.readOne(filepath.Join(s.dir, name))
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// GetContext adapts TailRead to the orchestrator.ContextProvider
// collaborator interface; prompt is accepted for interface compatibility
// but unused, matching the source's last-N-messages semantics.
func (s *ConversationStore) GetContext(_ context.Context, _ string, n int) ([]orchestrator.ChatMessage, error) {
	return s.TailRead(n)
}

func (s *ConversationStore) readOne(path string) (orchestrator.ChatMessage, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Alg == "" {
		// Legacy plain JSON file with no envelope wrapper.
		var msg orchestrator.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return orchestrator.ChatMessage{}, false
		}
		return msg, true
	}

	switch env.Alg {
	case algPlaintext:
		var msg orchestrator.ChatMessage
		if err := json.Unmarshal(env.Content, &msg); err != nil {
			return orchestrator.ChatMessage{}, false
		}
		return msg, true
	case algAES256GCM:
		return s.decrypt(env)
	default:
		return orchestrator.ChatMessage{}, false
	}
}

func (s *ConversationStore) decrypt(env envelope) (orchestrator.ChatMessage, bool) {
	if s.key == nil {
		return orchestrator.ChatMessage{}, false
	}

	var contentB64 string
	if err := json.Unmarshal(env.Content, &contentB64); err != nil {
		return orchestrator.ChatMessage{}, false
	}
	ciphertext, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return orchestrator.ChatMessage{}, false
	}

	var msg orchestrator.ChatMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return orchestrator.ChatMessage{}, false
	}
	return msg, true
}
