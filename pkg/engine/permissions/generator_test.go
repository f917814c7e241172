package permissions

import (
	"encoding/json"
	"testing"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePolicy_AWS(t *testing.T) {
	raw, err := GeneratePolicy(normalize.AWS, []Feature{Ingest}, nil)
	require.NoError(t, err)

	var doc PolicyDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Statement, 1)
	assert.Equal(t, []string{"cloudtrail:LookupEvents", "sts:GetCallerIdentity"}, doc.Statement[0].Action)
}

func TestGeneratePolicy_AllFeatures(t *testing.T) {
	actions, err := Actions(normalize.AWS, nil)
	require.NoError(t, err)
	assert.Contains(t, actions, "s3:PutObject")
	assert.IsNonDecreasing(t, actions)
}

func TestGeneratePolicy_AzureScopes(t *testing.T) {
	raw, err := GeneratePolicy(normalize.Azure, nil, []string{"sub-1"})
	require.NoError(t, err)

	var role RoleDefinition
	require.NoError(t, json.Unmarshal(raw, &role))
	assert.Equal(t, []string{"/subscriptions/sub-1"}, role.AssignableScopes)
	assert.Contains(t, role.Actions, "Microsoft.Insights/eventtypes/values/read")
}

func TestActions_Unknown(t *testing.T) {
	_, err := Actions(normalize.AWS, []Feature{"billing"})
	assert.Error(t, err)
	_, err = Actions("gcp", nil)
	assert.Error(t, err)
}
