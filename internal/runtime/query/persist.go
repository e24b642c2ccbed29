package query

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// Persister keeps server-confirmed entries across sessions so a new view can
// paint from the last known data while it refetches.
type Persister interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

type ValkeyConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	Namespace string
	TLS       ValkeyTLSConfig
}

type valkeyPersister struct {
	client    valkey.Client
	namespace string
}

// NewValkeyPersister connects to a valkey or redis server and verifies it with
// a PING.
func NewValkeyPersister(ctx context.Context, cfg ValkeyConfig) (Persister, error) {
	if cfg.Address == "" {
		return nil, errors.New("query: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("query: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("query: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("query: valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("query: valkey ping: %w", err)
	}

	return &valkeyPersister{client: client, namespace: cfg.Namespace}, nil
}

func (p *valkeyPersister) storageKey(key string) string {
	if p.namespace == "" {
		return key
	}
	return p.namespace + ":" + key
}

func (p *valkeyPersister) Load(ctx context.Context, key string) (Entry, bool, error) {
	resp := p.client.Do(ctx, p.client.B().Get().Key(p.storageKey(key)).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("query: valkey get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("query: valkey unmarshal: %w", err)
	}
	return entry, true, nil
}

func (p *valkeyPersister) Store(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("query: valkey ttl required")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("query: valkey marshal: %w", err)
	}
	cmd := p.client.B().Set().Key(p.storageKey(key)).Value(string(payload)).Px(ttl).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("query: valkey set: %w", err)
	}
	return nil
}

func (p *valkeyPersister) Delete(ctx context.Context, key string) error {
	if err := p.client.Do(ctx, p.client.B().Del().Key(p.storageKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("query: valkey del: %w", err)
	}
	return nil
}

func (p *valkeyPersister) Close(context.Context) error {
	p.client.Close()
	return nil
}

// MemoryPersister is an in-process Persister. It ignores TTLs.
type MemoryPersister struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{entries: make(map[string][]byte)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	payload, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (m *MemoryPersister) Store(_ context.Context, key string, entry Entry, _ time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = payload
	m.mu.Unlock()
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPersister) Close(context.Context) error { return nil }
