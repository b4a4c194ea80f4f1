package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Document {
	return Document{Tenants: map[string]map[string]Credentials{
		"acme": {
			"pudu":    {Enabled: true, APIKey: "k", APISecret: "s"},
			"gausium": {Enabled: false},
		},
		"beta": {
			"pudu": {Enabled: true, APIKey: "k2"},
		},
	}}
}

func TestCatalog_EnabledVendorsExcludesDisabled(t *testing.T) {
	c := FromDocument(sampleDoc())
	assert.Equal(t, []string{"pudu"}, c.EnabledVendors("acme"))
}

func TestCatalog_Tenants_Sorted(t *testing.T) {
	c := FromDocument(sampleDoc())
	assert.Equal(t, []string{"acme", "beta"}, c.Tenants())
}

func TestCatalog_Pairs_OnlyEnabled(t *testing.T) {
	c := FromDocument(sampleDoc())
	pairs := c.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, Pair{Tenant: "acme", Vendor: "pudu"}, pairs[0])
	assert.Equal(t, Pair{Tenant: "beta", Vendor: "pudu"}, pairs[1])
}

func TestCatalog_Credentials_UnknownTenant(t *testing.T) {
	c := FromDocument(sampleDoc())
	_, err := c.Credentials("nope", "pudu")
	require.Error(t, err)
}

func TestCatalog_Credentials_UnknownVendor(t *testing.T) {
	c := FromDocument(sampleDoc())
	_, err := c.Credentials("acme", "nope")
	require.Error(t, err)
}
