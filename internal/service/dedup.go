package service

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
)

const dedupDomain = "ledgersync/dedup/v1"

// DedupKey returns the stable duplicate-detection key of a record. Records
// with a provider id hash that id; the rest hash the given fields in order.
// The entity type is part of the hash so keys never collide across tables.
func DedupKey(entity models.EntityType, externalID string, fields ...string) string {
	if externalID != "" {
		return hashParts(dedupDomain, string(entity), "ext", externalID)
	}
	parts := append([]string{dedupDomain, string(entity), "fields"}, fields...)
	return hashParts(parts...)
}

// hashParts length-prefixes every part so ("ab","c") and ("a","bc") differ.
func hashParts(parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func keyAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func keyDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
