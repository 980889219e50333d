package ports

// RequestMemory accounts the bytes of requests that are in flight per
// storage and decides whether new requests must be throttled.
type RequestMemory interface {
	Register(storageID string, bytes int64)
	Deregister(storageID string, bytes int64)
	// Throttle returns an error when the storage must not take more load.
	Throttle(storageID string) error
}
