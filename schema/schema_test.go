package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/schema"
)

func TestPropertiesFor_CommonFields(t *testing.T) {
	props := schema.PropertiesFor("unregistered_type")

	assert.True(t, props["id"])
	assert.True(t, props["name"])
	assert.True(t, props["displayName"])
	assert.True(t, props["createdOn"])
	assert.False(t, props["randomProviderField"])
}

func TestRegisterTypeProperties(t *testing.T) {
	schema.RegisterTypeProperties("acme_widget", []string{"widgetSize", "widgetColor"})

	props := schema.PropertiesFor("acme_widget")
	assert.True(t, props["widgetSize"])
	assert.True(t, props["widgetColor"])
	assert.True(t, props["id"])

	// Other types are unaffected.
	other := schema.PropertiesFor("acme_gadget")
	assert.False(t, other["widgetSize"])
}

func TestIsCommonTagProperty(t *testing.T) {
	assert.True(t, schema.IsCommonTagProperty("classification"))
	assert.True(t, schema.IsCommonTagProperty("name"))
	assert.False(t, schema.IsCommonTagProperty("cost-center"))
}

func TestValidator_ValidEntity(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	entity := &graphobject.Entity{
		Key:   "k1",
		Type:  "t",
		Class: []string{"Host"},
		RawData: []graphobject.RawDataEntry{
			{Name: "default", RawData: map[string]any{"id": "k1"}},
		},
		Properties: map[string]any{"displayName": "h"},
	}
	assert.NoError(t, v.ValidateEntity(entity))
}

func TestValidator_RejectsMissingClass(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	entity := &graphobject.Entity{
		Key:        "k1",
		Type:       "t",
		Properties: map[string]any{"displayName": "h"},
	}
	assert.Error(t, v.ValidateEntity(entity))
}

func TestValidator_Relationship(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	rel := &graphobject.Relationship{
		Key:   "a|has|b",
		Type:  "a_has_b",
		Class: "HAS",
		Properties: map[string]any{
			"_fromEntityKey": "a",
			"_toEntityKey":   "b",
		},
	}
	assert.NoError(t, v.ValidateRelationship(rel))

	missingKey := &graphobject.Relationship{Type: "a_has_b", Class: "HAS"}
	assert.Error(t, v.ValidateRelationship(missingKey))
}
