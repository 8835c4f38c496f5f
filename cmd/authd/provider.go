package main

import (
	"context"
	"sync"
	"time"

	authcore "github.com/nkarsten/authcore"
)

// memoryProvider is an in-memory AccountProvider for development and tests.
// Production deployments implement the interface over their own account
// storage instead.
type memoryProvider struct {
	mu       sync.Mutex
	accounts map[string]*authcore.AccountRecord
	byIdent  map[string]string
	secrets  map[string][]byte
	backup   map[string]map[[32]byte]bool
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{
		accounts: make(map[string]*authcore.AccountRecord),
		byIdent:  make(map[string]string),
		secrets:  make(map[string][]byte),
		backup:   make(map[string]map[[32]byte]bool),
	}
}

func (p *memoryProvider) create(rec authcore.AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := rec
	p.accounts[rec.AccountID] = &cp
	p.byIdent[rec.Identifier] = rec.AccountID
}

func (p *memoryProvider) GetByIdentifier(_ context.Context, identifier string) (authcore.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return authcore.AccountRecord{}, authcore.ErrAccountNotFound
	}
	return *p.accounts[id], nil
}

func (p *memoryProvider) GetByID(_ context.Context, accountID string) (authcore.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[accountID]
	if !ok {
		return authcore.AccountRecord{}, authcore.ErrAccountNotFound
	}
	return *rec, nil
}

func (p *memoryProvider) RecordFailedAttempt(_ context.Context, accountID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[accountID]
	if !ok {
		return 0, authcore.ErrAccountNotFound
	}
	rec.FailedAttempts++
	return rec.FailedAttempts, nil
}

func (p *memoryProvider) ResetFailedAttempts(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.accounts[accountID]; ok {
		rec.FailedAttempts = 0
		rec.LockedUntil = time.Time{}
	}
	return nil
}

func (p *memoryProvider) SetLockedUntil(_ context.Context, accountID string, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.accounts[accountID]; ok {
		rec.LockedUntil = until
	}
	return nil
}

func (p *memoryProvider) GetMFASecret(_ context.Context, accountID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.secrets[accountID], nil
}

func (p *memoryProvider) ConsumeBackupCode(_ context.Context, accountID string, codeHash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool := p.backup[accountID]
	if pool == nil || !pool[codeHash] {
		return false, nil
	}
	delete(pool, codeHash)
	return true, nil
}
