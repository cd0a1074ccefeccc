package graphobject

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_MarshalFlattensProperties(t *testing.T) {
	entity := &Entity{
		Key:   "host-1",
		Type:  "aws_instance",
		Class: []string{"Host"},
		RawData: []RawDataEntry{
			{Name: "default", RawData: map[string]any{"id": "host-1"}},
		},
		Properties: map[string]any{
			"displayName": "web-1",
			"active":      true,
		},
	}

	data, err := json.Marshal(entity)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))

	assert.Equal(t, "host-1", flat["_key"])
	assert.Equal(t, "aws_instance", flat["_type"])
	assert.Equal(t, []any{"Host"}, flat["_class"])
	assert.Equal(t, "web-1", flat["displayName"])
	assert.Equal(t, true, flat["active"])
	assert.NotContains(t, flat, "Properties")
}

func TestEntity_RoundTrip(t *testing.T) {
	entity := &Entity{
		Key:        "u-1",
		Type:       "user",
		Class:      []string{"User"},
		Properties: map[string]any{"displayName": "alice"},
	}

	data, err := json.Marshal(entity)
	require.NoError(t, err)

	var decoded Entity
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, entity.Key, decoded.Key)
	assert.Equal(t, entity.Type, decoded.Type)
	assert.Equal(t, entity.Class, decoded.Class)
	assert.Equal(t, "alice", decoded.Properties["displayName"])
}

func TestRelationship_MarshalKeepsEndpointsOpaque(t *testing.T) {
	rel := &Relationship{
		Key:   "host-1|has|user-1",
		Type:  "aws_instance_has_user",
		Class: "HAS",
		Properties: map[string]any{
			"_fromEntityKey": "host-1",
			"_toEntityKey":   "user-1",
		},
	}

	data, err := json.Marshal(rel)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))

	assert.Equal(t, "HAS", flat["_class"])
	assert.Equal(t, "host-1", flat["_fromEntityKey"])
	assert.Equal(t, "user-1", flat["_toEntityKey"])

	var decoded Relationship
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rel.Key, decoded.Key)
	assert.Equal(t, "host-1", decoded.Properties["_fromEntityKey"])
}
