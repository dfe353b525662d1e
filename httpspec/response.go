package httpspec

import "github.com/unkn0wn-root/httpengine/header"

// Response is the result of one completed exchange. Body is empty for a
// StreamingRequest — its bytes were delivered to the data handler instead
// of being accumulated here.
type Response struct {
	Status  Status
	Header  *header.Header
	Body    []byte
	Timings Timings
}
