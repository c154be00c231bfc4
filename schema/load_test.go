package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: ml-platforms
version: "2026-01"
vocabularies:
  categories: [Training, Serving, Monitoring]
  pricingModels: [Free, Subscription]
intentFields:
  - name: primaryGoal
    type: enum
    required: true
    enumValues: [find, compare]
  - name: category
    type: string
    vocabulary: categories
  - name: confidence
    type: number
    required: true
vectorCollections:
  - name: semantic
    embeddingField: semantic
    dimension: 384
    description: platform descriptions
    enabled: true
structuredDatabase:
  collection: platforms
  searchFields: [name, description]
  filterableFields: [category, pricingModel]
priceOperators: [lt, lte]
embeddingDimension: 384
`

func TestParseYAML(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "ml-platforms", s.Name)
	assert.Equal(t, "2026-01", s.Version)
	assert.Equal(t, 384, s.EmbeddingDimension)
	values, ok := s.Vocabulary("categories")
	require.True(t, ok)
	assert.Equal(t, []string{"Training", "Serving", "Monitoring"}, values)
	primary, ok := s.PrimaryCollection()
	require.True(t, ok)
	assert.Equal(t, "semantic", primary.Name)
	assert.Equal(t, "platforms", s.Structured.Collection)
}

func TestParseRejectsInvalidSchema(t *testing.T) {
	bad := []byte("name: x\nversion: \"1\"\nembeddingDimension: 0\n")
	_, err := Parse(bad)
	require.Error(t, err)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	require.Error(t, err)
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ml-platforms", s.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
