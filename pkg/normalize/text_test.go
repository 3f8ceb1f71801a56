package normalize

import (
	"testing"

	"github.com/harunnryd/freestream/pkg/alert"
)

func TestCensorWordBoundaries(t *testing.T) {
	f := NewProfanityFilter([]string{"bad", "shit"})
	cases := map[string]string{
		"bad":                 "***",
		"Bad day":             "*** day",
		"ＢＡＤ":                 "***",
		"badger is fine":      "badger is fine",
		"so bad, really bad!": "so ***, really ***!",
		"$hit happens":        "**** happens",
		"sh1t":                "****",
		"":                    "",
	}
	for in, want := range cases {
		if got := f.Censor(in); got != want {
			t.Fatalf("censor %q: expected %q, got %q", in, want, got)
		}
	}
	if !f.Contains("that was BAD") {
		t.Fatalf("expected Contains to match")
	}
	var nilFilter *ProfanityFilter
	if nilFilter.Censor("bad") != "bad" {
		t.Fatalf("nil filter should pass text through")
	}
}

func TestDefaultBlocklistUsedWhenEmpty(t *testing.T) {
	f := NewProfanityFilter(nil)
	if f.Censor("well shit") != "well ****" {
		t.Fatalf("expected default blocklist to apply")
	}
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"hello :Kappa: world":                "hello world",
		"see https://example.com/x now":      "see now",
		"a <b> {c} [d] | e \\ f ^ g ~ h `i`": "a b c d e f g h i",
		"yaaaaaay!!!!!":                      "yaay!!",
		"  spaced \n\t out  ":                "spaced out",
		"aaa":                                "aaa",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("clean %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if Truncate("short", 10) != "short" {
		t.Fatalf("short text should be untouched")
	}
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Fatalf("unexpected %q", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestRenderUnknownPlaceholders(t *testing.T) {
	got := Render("{a}-{missing}-{b}{", map[string]string{"a": "1", "b": "2"})
	if got != "1--2{" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"bits","event":{"id":"e1","username":"alice","amount":250,"message":"hi"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c, ok := ev.(Cheer)
	if !ok || c.Amount != 250 || c.ID != "e1" || c.Message != "hi" {
		t.Fatalf("unexpected event %#v", ev)
	}

	ev, err = Decode([]byte(`{"type":"membership_recurring","event":{"id":"m","username":"a","level":"Gold","months":3}}`))
	if err != nil {
		t.Fatalf("decode membership: %v", err)
	}
	if ev.Type() != alert.EventMembershipRecurring {
		t.Fatalf("expected recurring membership, got %s", ev.Type())
	}

	for _, bad := range []string{
		`{"type":"raid","event":{}}`,
		`{"type":"bits"}`,
		`not json`,
		`{"type":"bits","event":{"amount":"lots"}}`,
	} {
		if _, err := Decode([]byte(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestInject(t *testing.T) {
	ev, err := Inject("twitch_bits", map[string]any{"amount": float64(500), "type": "ignored"})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	c, ok := ev.(Cheer)
	if !ok || c.Amount != 500 || c.Username != "TestUser" || c.ID == "" {
		t.Fatalf("unexpected event %#v", ev)
	}

	ev, err = Inject("youtube_membership", map[string]any{"is_milestone": true, "months": "12"})
	if err != nil {
		t.Fatalf("inject membership: %v", err)
	}
	if ev.Type() != alert.EventMembershipRecurring {
		t.Fatalf("expected milestone membership, got %s", ev.Type())
	}

	a, _ := Inject("sub_gift", nil)
	b, _ := Inject("sub_gift", nil)
	if a.EventID() == b.EventID() {
		t.Fatalf("injected events must not collide in dedup")
	}

	if _, err := Inject("raid", nil); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
