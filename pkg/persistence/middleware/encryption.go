package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

const envelopeKey = "__encrypted__"

// ErrMissingEnvelope is returned when a stored variable map was not written
// through the encryption middleware.
var ErrMissingEnvelope = errors.New("variables are missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt,
	// so keys can be rotated without rewriting stored instances.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.StateStore
	config EncryptionConfig
}

// encryptionWithHistory keeps the history capability of the wrapped store visible.
type encryptionWithHistory struct {
	*encryptionMiddleware
	history ports.HistoryStore
}

func (m encryptionWithHistory) Append(ctx context.Context, events ...domain.HistoryEvent) error {
	return m.history.Append(ctx, events...)
}

func (m encryptionWithHistory) Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	return m.history.Events(ctx, instanceID)
}

// NewEncryptionMiddleware creates a middleware that seals the variables and
// compensation snapshots of every execution with AES-GCM. The execution tree
// itself stays readable so stores can still index and inspect it.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.StateStore) ports.StateStore {
		m := &encryptionMiddleware{next: next, config: config}
		if h, ok := next.(ports.HistoryStore); ok {
			return encryptionWithHistory{encryptionMiddleware: m, history: h}
		}
		return m
	}, nil
}

func (m *encryptionMiddleware) Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	inst, err := m.next.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	for _, e := range inst.Executions {
		if e.Variables, err = m.open(e.Variables); err != nil {
			return nil, fmt.Errorf("failed to decrypt variables of %s: %w", e.ID, err)
		}
		for i := range e.Handlers {
			if e.Handlers[i].Snapshot, err = m.open(e.Handlers[i].Snapshot); err != nil {
				return nil, fmt.Errorf("failed to decrypt snapshot in %s: %w", e.ID, err)
			}
		}
	}
	return inst, nil
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) OpenTransactionContext(ctx context.Context) (ports.TransactionContext, error) {
	tx, err := m.next.OpenTransactionContext(ctx)
	if err != nil {
		return nil, err
	}
	sealed := &sealingTx{TransactionContext: tx, m: m}
	if hw, ok := tx.(ports.HistoryWriter); ok {
		return sealingHistoryTx{sealingTx: sealed, history: hw}, nil
	}
	return sealed, nil
}

type sealingTx struct {
	ports.TransactionContext
	m *encryptionMiddleware
}

func (t *sealingTx) writer() (ports.InstanceWriter, error) {
	w, ok := t.TransactionContext.(ports.InstanceWriter)
	if !ok {
		return nil, errors.New("wrapped transaction cannot write instances")
	}
	return w, nil
}

func (t *sealingTx) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	w, err := t.writer()
	if err != nil {
		return err
	}
	sealed := inst.Clone()
	for _, e := range sealed.Executions {
		if e.Variables, err = t.m.seal(e.Variables); err != nil {
			return err
		}
		for i := range e.Handlers {
			if e.Handlers[i].Snapshot, err = t.m.seal(e.Handlers[i].Snapshot); err != nil {
				return err
			}
		}
	}
	return w.SaveInstance(ctx, sealed)
}

func (t *sealingTx) DeleteInstance(ctx context.Context, instanceID string) error {
	w, err := t.writer()
	if err != nil {
		return err
	}
	return w.DeleteInstance(ctx, instanceID)
}

type sealingHistoryTx struct {
	*sealingTx
	history ports.HistoryWriter
}

func (t sealingHistoryTx) AppendHistory(ctx context.Context, events ...domain.HistoryEvent) error {
	return t.history.AppendHistory(ctx, events...)
}

func (m *encryptionMiddleware) seal(vars map[string]any) (map[string]any, error) {
	if len(vars) == 0 {
		return vars, nil
	}
	plainText, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt variables: %w", err)
	}
	return map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}, nil
}

func (m *encryptionMiddleware) open(vars map[string]any) (map[string]any, error) {
	if len(vars) == 0 {
		return vars, nil
	}
	encoded, ok := vars[envelopeKey].(string)
	if !ok || len(vars) != 1 {
		return nil, ErrMissingEnvelope
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(plainText, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted variables: %w", err)
	}
	return out, nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
