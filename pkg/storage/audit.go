package storage

import (
	"fmt"
	"os"
	"sync"
)

// AuditLog records every applied mutation as one line. Orders are never
// deleted from the KV, but the audit file gives operators a chronological
// trail without scanning the database.
type AuditLog interface {
	Append(line string)
}

type NopAudit struct{}

func NewNopAudit() *NopAudit        { return &NopAudit{} }
func (a *NopAudit) Append(_ string) {}

type FileAudit struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileAudit(path string) (*FileAudit, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileAudit{f: f}, nil
}

func (a *FileAudit) Append(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.f, line)
}

func (a *FileAudit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

var _ AuditLog = (*NopAudit)(nil)
var _ AuditLog = (*FileAudit)(nil)
