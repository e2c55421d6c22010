package uniqueid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// UniqueId returns a 22-character URL-safe id: 8 bytes of microsecond
// timestamp followed by 8 random bytes. Ids sort roughly by creation time.
func UniqueId() string {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixMicro()))
	if _, err := rand.Read(b[8:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ConnectionID returns an id for a client connection, tagged with the
// gateway's name so ids from several gateways stay distinguishable in logs.
func ConnectionID(gateway string) string {
	if gateway == "" {
		return UniqueId()
	}
	return gateway + "/" + UniqueId()
}
