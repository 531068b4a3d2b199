// Package xid generates the prefixed entity ids used across the
// stores: prd for products, cus/cst for customers, sal/sale for
// sales, crd for credit entries, usr for users and log for audit
// rows. The prefix keeps ids self-describing in logs and query
// results.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns an id of the form prefix-nanos-randomhex. Ids sort
// roughly by creation time within a prefix.
func New(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "id"
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
