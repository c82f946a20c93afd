package transport

import (
	"bytes"
	"testing"

	"tmcp-go/pkg/record"
)

func TestResolvePolicyDefaults(t *testing.T) {
	p := ResolvePolicy("stdin", Option{}, nil, nil)
	if !p.ExitOnClose || p.Retry {
		t.Fatalf("expected stdin default {true,false}, got %+v", p)
	}
	p = ResolvePolicy("side:1", Option{}, nil, nil)
	if p.ExitOnClose || p.Retry {
		t.Fatalf("expected side channel default {false,false}, got %+v", p)
	}
}

func TestResolvePolicyLegacyLingerOverridesOption(t *testing.T) {
	exitTrue := true
	lingerTrue := true
	p := ResolvePolicy("side:1", Option{ExitOnClose: &exitTrue, Linger: &lingerTrue}, nil, nil)
	if p.ExitOnClose {
		t.Fatalf("expected linger=true to force exitOnClose=false, got %+v", p)
	}
}

func TestResolvePolicyGlobalOverridesEverything(t *testing.T) {
	exitTrue := true
	global := map[string]bool{"side:1": false}
	p := ResolvePolicy("side:1", Option{ExitOnClose: &exitTrue}, global, nil)
	if p.ExitOnClose {
		t.Fatalf("expected global override to win, got %+v", p)
	}
}

func TestNDJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := newNDJSONEncoder(&buf)
	rec := record.Normalize(map[string]interface{}{"data": map[string]interface{}{"x": 1.0}})
	if err := enc.encode(rec); err != nil {
		t.Fatal(err)
	}

	dec := newNDJSONDecoder(&buf)
	v, malformed, err := dec.next()
	if malformed != nil {
		t.Fatalf("unexpected malformed: %v", malformed)
	}
	if err != nil && err.Error() != "EOF" {
		t.Fatalf("unexpected decode error: %v", err)
	}
	got := record.Normalize(v)
	if got.Data["x"] != 1.0 {
		t.Fatalf("expected x=1.0, got %v", got.Data["x"])
	}
}

func TestNDJSONDecoderSkipsMalformedLine(t *testing.T) {
	buf := bytes.NewBufferString("{not json}\n{\"meta\":{},\"data\":{\"ok\":true}}\n")
	dec := newNDJSONDecoder(buf)

	_, malformed, _ := dec.next()
	if malformed == nil {
		t.Fatal("expected first line to be reported malformed")
	}

	v, malformed2, _ := dec.next()
	if malformed2 != nil {
		t.Fatalf("expected second line to decode cleanly, got %v", malformed2)
	}
	rec := record.Normalize(v)
	if rec.Data["ok"] != true {
		t.Fatalf("expected ok=true, got %v", rec.Data["ok"])
	}
}
