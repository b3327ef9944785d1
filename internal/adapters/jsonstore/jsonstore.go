// Package jsonstore implements ports.ChannelStore, ports.TemplateStore and
// ports.AccountStore as file-backed JSON documents: one file per channel,
// one file per client account, and a single file for the template catalog.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

// ChannelStore is a directory of one JSON file per channel, keyed by
// normalized channel id.
type ChannelStore struct {
	baseDir string
	mu      sync.Mutex
}

func NewChannelStore(baseDir string) *ChannelStore {
	return &ChannelStore{baseDir: baseDir}
}

func (c *ChannelStore) path(id domain.ChannelID) string {
	return filepath.Join(c.baseDir, string(domain.NormalizeChannelID(string(id)))+".json")
}

func (c *ChannelStore) FindOne(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read channel %s: %w", id, err)
	}
	var ch domain.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal channel %s: %w", id, err)
	}
	return &ch, nil
}

func (c *ChannelStore) Update(ctx context.Context, id domain.ChannelID, patch ports.ChannelPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.readLocked(id)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("update channel %s: not found", id)
	}
	if patch.Banned != nil {
		ch.Banned = *patch.Banned
	}
	if patch.LastMessageTime != nil {
		ch.LastMessageTime = *patch.LastMessageTime
	}
	if patch.Title != nil {
		ch.Title = *patch.Title
	}
	if patch.Username != nil {
		ch.Username = *patch.Username
	}
	return c.writeLocked(*ch)
}

func (c *ChannelStore) RemoveFromAvailableMsgs(ctx context.Context, id domain.ChannelID, variantIndex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.readLocked(id)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("remove variant on channel %s: not found", id)
	}
	ch.AvailableMsgs = domain.RemoveVariant(ch.AvailableMsgs, variantIndex)
	return c.writeLocked(*ch)
}

func (c *ChannelStore) ActiveChannels(ctx context.Context, limit, skip int, excludeIDs []domain.ChannelID) ([]domain.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("readdir %s: %w", c.baseDir, err)
	}

	exclude := make(map[domain.ChannelID]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}

	var all []domain.Channel
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.baseDir, e.Name()))
		if err != nil {
			continue
		}
		var ch domain.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			continue
		}
		if ch.Banned || exclude[ch.ChannelID] {
			continue
		}
		all = append(all, ch)
	}

	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (c *ChannelStore) Upsert(ctx context.Context, channel domain.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(channel)
}

func (c *ChannelStore) readLocked(id domain.ChannelID) (*domain.Channel, error) {
	data, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read channel %s: %w", id, err)
	}
	var ch domain.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal channel %s: %w", id, err)
	}
	return &ch, nil
}

func (c *ChannelStore) writeLocked(ch domain.Channel) error {
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.baseDir, err)
	}
	data, err := json.MarshalIndent(ch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channel %s: %w", ch.ChannelID, err)
	}
	path := c.path(ch.ChannelID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// TemplateStore reads a single flat variantIndex -> template JSON file.
type TemplateStore struct {
	path string
}

func NewTemplateStore(path string) *TemplateStore {
	return &TemplateStore{path: path}
}

func (t *TemplateStore) FindOne(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", t.path, err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal templates %s: %w", t.path, err)
	}
	return out, nil
}

// accountFile is the on-disk shape of one AccountStore entry.
type accountFile struct {
	ClientID      string         `json:"clientId"`
	PromoteMobile []domain.Mobile `json:"promoteMobile"`
	DaysLeft      int            `json:"daysLeft"`
	Expired       bool           `json:"expired"`
}

// AccountStore reads/writes one JSON file per client account.
type AccountStore struct {
	baseDir string
	mu      sync.Mutex
}

func NewAccountStore(baseDir string) *AccountStore {
	return &AccountStore{baseDir: baseDir}
}

func (a *AccountStore) GetActiveClients(ctx context.Context) ([]ports.AccountRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("readdir %s: %w", a.baseDir, err)
	}

	var out []ports.AccountRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		af, err := a.readLocked(e.Name())
		if err != nil || af.Expired {
			continue
		}
		out = append(out, ports.AccountRecord{
			ClientID:      af.ClientID,
			PromoteMobile: af.PromoteMobile,
			DaysLeft:      af.DaysLeft,
		})
	}
	return out, nil
}

func (a *AccountStore) MarkExpired(ctx context.Context, predicate func(domain.Mobile) bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("readdir %s: %w", a.baseDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		af, err := a.readLocked(e.Name())
		if err != nil {
			continue
		}
		changed := false
		for _, m := range af.PromoteMobile {
			if predicate(m) {
				af.Expired = true
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		data, err := json.MarshalIndent(af, "", "  ")
		if err != nil {
			continue
		}
		path := filepath.Join(a.baseDir, e.Name())
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			continue
		}
		_ = os.Rename(tmp, path)
	}
	return nil
}

func (a *AccountStore) readLocked(name string) (*accountFile, error) {
	data, err := os.ReadFile(filepath.Join(a.baseDir, name))
	if err != nil {
		return nil, err
	}
	var af accountFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, err
	}
	return &af, nil
}
