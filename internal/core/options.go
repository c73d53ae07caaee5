package core

import (
	"context"
)

// Scope selects where an option lives: shared by every tenant, or owned by a
// single tenant.
type Scope struct {
	// Tenant is empty for the global scope.
	Tenant string
}

// GlobalScope returns the scope shared by every tenant.
func GlobalScope() Scope {
	return Scope{}
}

// TenantScope returns the scope of a single tenant.
func TenantScope(tenant string) Scope {
	return Scope{Tenant: tenant}
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return s.Tenant == ""
}

// String renders the scope for keys and logs.
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "tenant:" + s.Tenant
}

// OptionStore defines the key-value configuration store the stored schema
// versions are kept in.
type OptionStore interface {
	// Get retrieves a value by key. Returns ErrOptionNotFound if the key does
	// not exist.
	Get(ctx context.Context, scope Scope, key string) ([]byte, error)

	// Set stores a value, replacing any previous one.
	Set(ctx context.Context, scope Scope, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, scope Scope, key string) error

	// Close releases the underlying connection.
	Close() error
}

// TxOptionStore is an OptionStore living in the relational database, able
// to write as part of an open transaction.
type TxOptionStore interface {
	OptionStore

	// SetTx stores a value through tx. The write becomes visible on commit.
	SetTx(ctx context.Context, tx Transaction, scope Scope, key string, value []byte) error
}
