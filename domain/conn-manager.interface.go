package domain

// ConnManager resolves the REST collaborators of a provider.
type ConnManager interface {
	SnapshotFetcher(provider string) (SnapshotFetcher, error)
	CandleFetcher(provider string) (CandleFetcher, error)
}
