package moduleutil

import "testing"

func TestParseChannelBoolMap(t *testing.T) {
	got := ParseChannelBoolMap("stdin=true,side:1=false, stdout = true ")
	want := map[string]bool{"stdin": true, "side:1": false, "stdout": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %q: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestParseChannelBoolMapEmpty(t *testing.T) {
	got := ParseChannelBoolMap("")
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestParseChannelBoolMapIgnoresMalformedPairs(t *testing.T) {
	got := ParseChannelBoolMap("stdin=notabool,stdout=true,nopair")
	if len(got) != 1 || got["stdout"] != true {
		t.Fatalf("expected only stdout=true to survive, got %v", got)
	}
}
