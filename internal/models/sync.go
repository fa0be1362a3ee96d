package models

// SyncResult accumulates the outcome of one reconciliation run. It is
// never persisted; the caller uses it for notifications and events.
type SyncResult struct {
	NewInvoices       int      `json:"new_invoices"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	NewClients        int      `json:"new_clients"`
	NewProducts       int      `json:"new_products"`
	Errors            []string `json:"errors"`
}

// HasErrors reports whether anything went wrong during the run.
func (r *SyncResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// SyncStartedEvent is published when a run begins.
type SyncStartedEvent struct {
	Total int `json:"total"`
}

// SyncProgressEvent is published periodically while a run advances.
type SyncProgressEvent struct {
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
	Stats     SyncResult `json:"stats"`
}

// SyncCompletedEvent is published when a run finishes.
type SyncCompletedEvent struct {
	Stats SyncResult `json:"stats"`
}

// SyncErrorEvent is published when a run aborts before completing.
type SyncErrorEvent struct {
	Errors []string `json:"errors"`
}
