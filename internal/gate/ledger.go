package gate

import "sync"

// Ledger records successful promotions per environment and artifact SHA.
// Production-style environments consult it to require that the same artifact
// already went through their upstream environment.
type Ledger struct {
	mu       sync.Mutex
	promoted map[string]map[string]bool // env -> sha -> true
}

// NewLedger creates an empty promotion ledger.
func NewLedger() *Ledger {
	return &Ledger{promoted: make(map[string]map[string]bool)}
}

// Record marks the artifact SHA as successfully promoted to env.
func (l *Ledger) Record(env, sha string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.promoted[env] == nil {
		l.promoted[env] = make(map[string]bool)
	}
	l.promoted[env][sha] = true
}

// Promoted reports whether the artifact SHA was promoted to env.
func (l *Ledger) Promoted(env, sha string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.promoted[env][sha]
}
