package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	vault "github.com/openbao/openbao/api/v2"
)

// OpenBaoStore keeps values in an OpenBao KV v2 mount, which encrypts them
// at rest. Every key is one secret holding a single "value" field.
type OpenBaoStore struct {
	client    *vault.Client
	mountPath string
	prefix    string
	roleID    string
	secretID  string
	stopCh    chan struct{}
	stopOnce  sync.Once
	tokenMu   sync.RWMutex
	logger    *slog.Logger
}

type OpenBaoStoreOpt func(*OpenBaoStore)

func WithMountPath(mountPath string) OpenBaoStoreOpt {
	return func(v *OpenBaoStore) {
		v.mountPath = mountPath
	}
}

// WithPathPrefix stores every key below prefix inside the mount.
func WithPathPrefix(prefix string) OpenBaoStoreOpt {
	return func(v *OpenBaoStore) {
		v.prefix = prefix
	}
}

func NewOpenBaoStore(address, roleID, secretID string, logger *slog.Logger, opts ...OpenBaoStoreOpt) (*OpenBaoStore, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role_id cannot be empty")
	}
	if secretID == "" {
		return nil, fmt.Errorf("secret_id cannot be empty")
	}

	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create openbao client: %w", err)
	}

	if err := authenticateAppRole(client, roleID, secretID); err != nil {
		return nil, fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}

	store := &OpenBaoStore{
		client:    client,
		mountPath: "healthsync",
		roleID:    roleID,
		secretID:  secretID,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(store)
	}

	go store.tokenRenewalLoop()

	return store, nil
}

func authenticateAppRole(client *vault.Client, roleID, secretID string) error {
	resp, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("no auth info returned from AppRole login")
	}

	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// Close stops the token renewal goroutine.
func (v *OpenBaoStore) Close() error {
	v.stopOnce.Do(func() { close(v.stopCh) })
	return nil
}

func (v *OpenBaoStore) tokenRenewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if err := v.ensureValidToken(); err != nil {
				v.logger.Error("openbao token renewal failed", "err", err)
			}
		}
	}
}

// ensureValidToken renews the token when its ttl drops below five minutes
// and logs in again when it cannot be renewed.
func (v *OpenBaoStore) ensureValidToken() error {
	v.tokenMu.Lock()
	defer v.tokenMu.Unlock()

	info, err := v.client.Auth().Token().LookupSelf()
	if err != nil || info == nil || info.Data == nil {
		v.logger.Warn("token lookup failed, re-authenticating", "err", err)
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	ttl, err := info.TokenTTL()
	if err != nil {
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	if ttl < 5*time.Minute {
		v.logger.Info("token ttl low, attempting renewal", "ttl", ttl)
		renewed, err := v.client.Auth().Token().RenewSelf(3600)
		if err != nil || renewed == nil || renewed.Auth == nil {
			v.logger.Warn("token renewal failed, re-authenticating", "err", err)
			return authenticateAppRole(v.client, v.roleID, v.secretID)
		}
	}

	return nil
}

func (v *OpenBaoStore) secretPath(key string) string {
	if v.prefix == "" {
		return key
	}
	return path.Join(v.prefix, key)
}

func (v *OpenBaoStore) Store(ctx context.Context, key, value string) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	_, err := v.client.KVv2(v.mountPath).Put(ctx, v.secretPath(key), map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s in openbao: %w", key, err)
	}
	return nil
}

func (v *OpenBaoStore) Read(ctx context.Context, key string) (string, error) {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.secretPath(key))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s from openbao: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}

	value, ok := secret.Data["value"].(string)
	if !ok {
		return "", fmt.Errorf("secret %s has no string value", key)
	}
	return value, nil
}

// Delete removes every version of the key, not just the latest one.
func (v *OpenBaoStore) Delete(ctx context.Context, key string) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	if err := v.client.KVv2(v.mountPath).DeleteMetadata(ctx, v.secretPath(key)); err != nil {
		return fmt.Errorf("failed to delete %s from openbao: %w", key, err)
	}
	return nil
}
