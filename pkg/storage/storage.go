package storage

// ApiStore defines the non-privileged operations needed by the HTTP API.
type ApiStore interface {
	BalanceReader
	LedgerReader
	OperationReader
}

// Storage is the root interface for the entire data layer. Components should
// depend on the more granular interfaces (BalanceStore, LedgerJournal,
// OperationStore) instead of this one.
type Storage interface {
	BalanceStore
	LedgerJournal
	OperationStore
}
