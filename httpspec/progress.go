package httpspec

// Counter is a current-vs-total byte count. Total is negative when the
// size is not yet known (spec.md §3).
type Counter struct {
	Current int64
	Total   int64
}

// Progress is the download/upload byte-count snapshot delivered to
// on_progress callbacks.
type Progress struct {
	Download Counter
	Upload   Counter
}
