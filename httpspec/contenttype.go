package httpspec

// ContentType names the media types the engine sets or recognizes without
// consulting an external MIME registry.
type ContentType string

const (
	ContentTypeJSON      ContentType = "application/json"
	ContentTypeForm      ContentType = "application/x-www-form-urlencoded"
	ContentTypeTextPlain ContentType = "text/plain"
	ContentTypeOctet     ContentType = "application/octet-stream"
)

func (c ContentType) String() string { return string(c) }
