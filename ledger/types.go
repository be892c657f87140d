package ledger

import (
	"fmt"
	"time"
)

// Kind distinguishes client and server certificates.
type Kind string

// Certificate kinds.
const (
	KindClient Kind = "client"
	KindServer Kind = "server"
)

// State is the lifecycle state of an issued certificate. The only
// transition is StateActive to StateRevoked.
type State string

// Certificate states.
const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
)

// Source records who signed a certificate.
type Source string

// Certificate sources.
const (
	// SourceLocal certificates are signed by the private CA.
	SourceLocal Source = "local"
	// SourceACM certificates are public certificates requested from the
	// remote certificate authority service. They carry serial 0.
	SourceACM Source = "acm"
)

// Certificate is a ledger entry for one issued certificate. Entries are
// never deleted.
type Certificate struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         Kind       `json:"kind"`
	Source       Source     `json:"source"`
	Serial       int64      `json:"serial"`
	NotBefore    time.Time  `json:"not_before"`
	NotAfter     time.Time  `json:"not_after"`
	State        State      `json:"state"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	RemoteID     string     `json:"remote_id,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	SupersededBy string     `json:"superseded_by,omitempty"`
}

// Active reports whether c has not been revoked.
func (c *Certificate) Active() bool {
	return c.State == StateActive
}

// CAState is the persistent metadata of the certificate authority.
type CAState struct {
	Subject      string    `json:"subject"`
	Serial       int64     `json:"serial"`
	NextSerial   int64     `json:"next_serial"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	KeyAlgorithm string    `json:"key_algorithm"`
	Fingerprint  string    `json:"fingerprint"`
	RemoteID     string    `json:"remote_id,omitempty"`
	// RevocationSeq is the sequence number of the newest revocation entry.
	RevocationSeq int64     `json:"revocation_seq"`
	CreatedAt     time.Time `json:"created_at"`
}

// RevocationEntry records one revoked client certificate.
type RevocationEntry struct {
	Seq       int64     `json:"seq"`
	Serial    int64     `json:"serial"`
	Name      string    `json:"name"`
	RevokedAt time.Time `json:"revoked_at"`
}

// PublishState is the last CRL version confirmed in the distribution store.
type PublishState struct {
	Version     int64     `json:"version"`
	Digest      string    `json:"digest"`
	Location    string    `json:"location"`
	PublishedAt time.Time `json:"published_at"`
}

// Snapshot is a consistent view of the revocation set.
type Snapshot struct {
	CA      CAState
	Entries []RevocationEntry
}

// Version returns the CRL number that renders this snapshot.
func (s *Snapshot) Version() int64 {
	return int64(len(s.Entries)) + 1
}

// Serials returns the revoked serials, oldest revocation first.
func (s *Snapshot) Serials() []int64 {
	out := make([]int64, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Serial
	}
	return out
}

func serialKey(serial int64) string {
	return fmt.Sprintf("%020d", serial)
}

func remoteKey(remoteID string) string {
	return "acm:" + remoteID
}
