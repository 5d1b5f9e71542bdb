package tests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadOpenAPI(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "openapi.yaml"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func schemas(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	components := doc["components"].(map[string]any)
	return components["schemas"].(map[string]any)
}

func TestActionHashSchemaPinsKeccakHex(t *testing.T) {
	hash := schemas(t, loadOpenAPI(t))["ActionHash"].(map[string]any)
	require.Equal(t, "^0x[0-9a-f]{64}$", hash["pattern"])
}

func TestDecisionPathsDocumentConflicts(t *testing.T) {
	doc := loadOpenAPI(t)
	paths := doc["paths"].(map[string]any)
	for _, path := range []string{"/actions/approve", "/actions/reject"} {
		post := paths[path].(map[string]any)["post"].(map[string]any)
		responses := post["responses"].(map[string]any)
		for _, status := range []string{"200", "400", "404", "409"} {
			_, ok := responses[status]
			require.Truef(t, ok, "%s must document %s", path, status)
		}
	}
	approve := paths["/actions/approve"].(map[string]any)["post"].(map[string]any)
	_, ok := approve["responses"].(map[string]any)["429"]
	require.True(t, ok, "approve must document RETRY_LATER")
}

func TestUIEventEnumsMatchDispatcher(t *testing.T) {
	event := schemas(t, loadOpenAPI(t))["UIEvent"].(map[string]any)
	props := event["properties"].(map[string]any)
	types := props["type"].(map[string]any)["enum"].([]any)
	require.ElementsMatch(t, []any{"open_ui", "action_added", "action_resolved", "account_selected"}, types)
	outcomes := props["outcome"].(map[string]any)["enum"].([]any)
	require.ElementsMatch(t, []any{"approved", "rejected", "abandoned", "failed"}, outcomes)
}
