package npmdoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
	"name": "left-pad",
	"description": "pad a string",
	"versions": {
		"1.3.0": {
			"dist": {
				"tarball": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
				"integrity": "sha512-abc123"
			}
		}
	}
}`

func TestRewriteTarballURLsIdempotent(t *testing.T) {
	doc, err := Decode([]byte(sampleDoc))
	require.NoError(t, err)

	require.NoError(t, RewriteTarballURLs(doc, "http", "proxy.lan:8080"))
	first, err := json.Marshal(doc)
	require.NoError(t, err)

	require.NoError(t, RewriteTarballURLs(doc, "http", "proxy.lan:8080"))
	second, err := json.Marshal(doc)
	require.NoError(t, err)

	require.JSONEq(t, string(first), string(second))

	versions := doc["versions"].(map[string]any)
	v := versions["1.3.0"].(map[string]any)
	dist := v["dist"].(map[string]any)
	require.Equal(t, "http://proxy.lan:8080/left-pad/-/left-pad-1.3.0.tgz", dist["tarball"])
}

func TestRewriteTarballURLsReplacesPriorHost(t *testing.T) {
	doc, err := Decode([]byte(sampleDoc))
	require.NoError(t, err)

	require.NoError(t, RewriteTarballURLs(doc, "http", "old-host:8080"))
	require.NoError(t, RewriteTarballURLs(doc, "https", "new-host:9090"))

	integrity, ok := Integrity(doc, "1.3.0")
	require.True(t, ok)
	require.Equal(t, "sha512-abc123", integrity)

	versions := doc["versions"].(map[string]any)
	v := versions["1.3.0"].(map[string]any)
	dist := v["dist"].(map[string]any)
	require.Equal(t, "https://new-host:9090/left-pad/-/left-pad-1.3.0.tgz", dist["tarball"])
}
