package adapter

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// Tenancy selects how tenants are separated in the search backend.
type Tenancy string

const (
	// TenancyPerTenant gives every tenant its own physical index.
	TenancyPerTenant Tenancy = "per_tenant"
	// TenancyShared puts all tenants in one index and prefixes document ids.
	TenancyShared Tenancy = "shared"
)

// IndexOverride pins a logical index to a physical index owned by one tenant.
type IndexOverride struct {
	Index    string `yaml:"index"`
	TenantID string `yaml:"tenant_id"`
}

// Location is the physical address of a logical document.
type Location struct {
	Index      string
	DocumentID string
}

// IndexResolver maps (tenant, logical index, document) to a Location.
type IndexResolver struct {
	Prefix    string
	Tenancy   Tenancy
	Overrides map[string]IndexOverride
}

// Resolve returns the physical location. Two different tenants never
// resolve to the same location.
func (r IndexResolver) Resolve(tenantID, indexName, documentID string) (Location, error) {
	if o, ok := r.Overrides[indexName]; ok {
		if o.TenantID != "" && o.TenantID != tenantID {
			return Location{}, types.Permanent(StatusTenantMismatch,
				fmt.Errorf("%w: index %q, tenant %q", ErrTenantMismatch, indexName, tenantID))
		}
		// An unpinned override is shared by every tenant whatever the tenancy.
		if o.TenantID == "" {
			return Location{Index: o.Index, DocumentID: sharedDocID(tenantID, documentID)}, nil
		}
		return Location{Index: o.Index, DocumentID: documentID}, nil
	}

	if r.Tenancy == TenancyShared {
		return Location{
			Index:      r.join(indexToken(indexName)),
			DocumentID: sharedDocID(tenantID, documentID),
		}, nil
	}
	return Location{
		Index:      r.join(indexToken(tenantID), indexToken(indexName)),
		DocumentID: documentID,
	}, nil
}

func (r IndexResolver) join(parts ...string) string {
	if r.Prefix != "" {
		parts = append([]string{r.Prefix}, parts...)
	}
	return strings.Join(parts, "-")
}

var tenantEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func sharedDocID(tenantID, documentID string) string {
	return tenantEscaper.Replace(tenantID) + ":" + documentID
}

// indexToken returns s when it is already a safe lowercase index token and
// a hashed token otherwise. Hashed tokens contain '.', which plain tokens
// never do, so the two forms cannot collide.
func indexToken(s string) string {
	if isPlainToken(s) {
		return s
	}
	sum := blake3.Sum256([]byte(s))
	return "h." + hex.EncodeToString(sum[:12])
}

func isPlainToken(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return s[0] != '_'
}
