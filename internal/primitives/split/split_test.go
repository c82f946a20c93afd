package split

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

func TestForwardCopiesToPrimaryAndSides(t *testing.T) {
	dir := t.TempDir()
	primaryPath := filepath.Join(dir, "primary")
	sidePath := filepath.Join(dir, "side0")

	primaryCh, err := transport.OpenChannel(primaryPath, "stdout", transport.WriteOptions{
		Protocol: transport.ProtocolNDJSON,
		Policy:   transport.Policy{ExitOnClose: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{Tag: "split", SidePaths: []string{sidePath}}, nil, primaryCh, transport.ProtocolNDJSON)
	if err != nil {
		t.Fatal(err)
	}

	rec := record.Normalize(map[string]interface{}{"data": map[string]interface{}{"x": 1.0}})
	if err := s.Forward(rec); err != nil {
		t.Fatal(err)
	}
	s.Close()
	primaryCh.Close()

	primaryBody, err := os.ReadFile(primaryPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(primaryBody), `"split"`) {
		t.Fatalf("expected tag in primary output, got %q", primaryBody)
	}

	if _, err := os.Stat(sidePath); err != nil {
		t.Fatalf("expected side file to be created: %v", err)
	}
}
