// Package catalog implements the Credential & Tenant Catalog (spec.md
// §4.C): a startup-loaded, read-only-after-load map of
// tenants.<tenant>.<vendor>.{enabled, credentials...}. Workers borrow a
// pointer to the Catalog; there is no process-wide singleton (spec.md §9).
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

// Credentials is the per-(tenant,vendor) credential bundle. Vendor
// adapters read the fields they need (API key/secret, or OAuth
// client-credentials per spec.md §6).
type Credentials struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	OAuthClientID     string `yaml:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret"`
	OAuthTokenURL     string `yaml:"oauth_token_url"`
	BaseURL      string `yaml:"base_url"`
}

// Document is the on-disk shape of the credentials document.
type Document struct {
	Tenants map[string]map[string]Credentials `yaml:"tenants"`
}

// Catalog is the loaded, read-only credential/tenant index.
type Catalog struct {
	tenants map[string]map[string]Credentials
}

// Load reads the credentials document from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "catalog.Load", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "catalog.Load", err)
	}
	return FromDocument(doc), nil
}

// FromDocument builds a Catalog from an already-parsed document.
func FromDocument(doc Document) *Catalog {
	return &Catalog{tenants: doc.Tenants}
}

// Tenants returns the configured tenant ids, sorted for deterministic
// iteration order (the Poller uses this to enumerate (tenant, vendor)
// pairs each run — spec.md §4.E step 1).
func (c *Catalog) Tenants() []string {
	out := make([]string, 0, len(c.tenants))
	for t := range c.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EnabledVendors returns the vendor ids enabled for tenant, sorted.
func (c *Catalog) EnabledVendors(tenant string) []string {
	vendors := c.tenants[tenant]
	out := make([]string, 0, len(vendors))
	for v, cred := range vendors {
		if cred.Enabled {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Credentials returns the credential bundle for (tenant, vendor).
func (c *Catalog) Credentials(tenant, vendor string) (Credentials, error) {
	vendors, ok := c.tenants[tenant]
	if !ok {
		return Credentials{}, ferrors.New(ferrors.KindConfig, "catalog.Credentials",
			fmt.Errorf("unknown tenant %q", tenant))
	}
	cred, ok := vendors[vendor]
	if !ok {
		return Credentials{}, ferrors.New(ferrors.KindConfig, "catalog.Credentials",
			fmt.Errorf("unknown vendor %q for tenant %q", vendor, tenant))
	}
	return cred, nil
}

// Pairs enumerates every enabled (tenant, vendor) pair, the seed list the
// Poller dispatches one worker per entry for (spec.md §4.E step 1).
type Pair struct {
	Tenant string
	Vendor string
}

func (c *Catalog) Pairs() []Pair {
	var pairs []Pair
	for _, tenant := range c.Tenants() {
		for _, vendor := range c.EnabledVendors(tenant) {
			pairs = append(pairs, Pair{Tenant: tenant, Vendor: vendor})
		}
	}
	return pairs
}
