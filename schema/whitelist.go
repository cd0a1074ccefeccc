// Package schema holds the data-model property whitelist used by entity
// canonicalization and the pluggable JSON Schema validation hook applied to
// graph objects before they reach the store.
package schema

import "sync"

// commonProperties are whitelisted for every entity type. Raw provider
// fields outside the whitelist for a type are preserved only through
// _rawData, never as top-level properties.
var commonProperties = []string{
	"id",
	"name",
	"displayName",
	"description",
	"environment",
	"createdOn",
	"active",
	"classification",
	"owner",
	"webLink",
}

// CommonTagProperties are tag keys promoted to top-level properties during
// canonicalization in addition to their tag.<Key> form.
var CommonTagProperties = []string{
	"classification",
	"name",
	"owner",
	"email",
}

// typeProperties extends the whitelist per entity _type. Integrations
// register their provider-specific fields at init time.
var (
	typeMu         sync.RWMutex
	typeProperties = make(map[string][]string)
)

// RegisterTypeProperties registers additional whitelisted property names
// for an entity type. Repeated registration appends.
func RegisterTypeProperties(entityType string, properties []string) {
	typeMu.Lock()
	defer typeMu.Unlock()
	typeProperties[entityType] = append(typeProperties[entityType], properties...)
}

// PropertiesFor returns the set of whitelisted property names for an entity
// type: the common fields plus anything registered for the type.
func PropertiesFor(entityType string) map[string]bool {
	typeMu.RLock()
	defer typeMu.RUnlock()

	props := make(map[string]bool, len(commonProperties)+len(typeProperties[entityType]))
	for _, p := range commonProperties {
		props[p] = true
	}
	for _, p := range typeProperties[entityType] {
		props[p] = true
	}
	return props
}

// IsCommonTagProperty reports whether a tag key belongs to the common
// promotion set.
func IsCommonTagProperty(key string) bool {
	for _, p := range CommonTagProperties {
		if p == key {
			return true
		}
	}
	return false
}
