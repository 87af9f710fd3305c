package membership

import (
    "errors"
    "fmt"
    "strconv"
)

// DefaultMaxMetadataBytes bounds the encoded size of a node's metadata.
const DefaultMaxMetadataBytes = 10240

// ErrLeft is returned when the local node has already left the cluster.
var ErrLeft = errors.New("membership: local node has left the cluster")

// MetadataTooLargeError rejects a metadata update whose merged encoding
// exceeds the configured limit. The local record is left untouched.
type MetadataTooLargeError struct {
    Size  int
    Limit int
}

func (e *MetadataTooLargeError) Error() string {
    limit := strconv.FormatFloat(float64(e.Limit)/1024, 'f', -1, 64)
    return fmt.Sprintf("Metadata size %.2fKB exceeds limit of %sKB", float64(e.Size)/1024, limit)
}

// IsMetadataTooLarge reports whether err is (or wraps) a MetadataTooLargeError.
func IsMetadataTooLarge(err error) bool {
    var e *MetadataTooLargeError
    return errors.As(err, &e)
}
