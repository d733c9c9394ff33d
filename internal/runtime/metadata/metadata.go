// Package metadata holds the header map carried next to every payload and the
// reserved keys the envelope layer writes into it.
package metadata

// Reserved header keys. Transports carry them verbatim as message metadata.
const (
	KeyType          = "up_type"
	KeySource        = "up_source"
	KeySink          = "up_sink"
	KeyFormat        = "up_format"
	KeyPriority      = "up_priority"
	KeyTTL           = "up_ttl_ms"
	KeyRequestID     = "up_reqid"
	KeyStatus        = "up_commstatus"
	KeyStatusMessage = "up_commstatus_msg"

	// KeyCorrelationID mirrors the request ID so generic broker tooling
	// can group a request with its response.
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside a payload.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Get returns the value for key or "" when absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Extra returns the entries whose keys are not reserved.
func (m Metadata) Extra() Metadata {
	out := Metadata{}
	for k, v := range m {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	return out
}

// IsReserved reports whether key is written by the envelope layer.
func IsReserved(key string) bool {
	switch key {
	case KeyType, KeySource, KeySink, KeyFormat, KeyPriority, KeyTTL,
		KeyRequestID, KeyStatus, KeyStatusMessage, KeyCorrelationID:
		return true
	}
	return false
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
