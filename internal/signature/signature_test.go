package signature

import "testing"

func TestPrimary_Stability(t *testing.T) {
	s := NewSigner("test-secret")

	a := s.Primary("curl/8.4.0", "203.0.113.5", "/login")
	b := s.Primary("curl/8.4.0", "203.0.113.5", "/login")

	if a != b {
		t.Errorf("Expected identical signatures for identical inputs. Got %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("Expected 128-bit hex signature (32 chars). Got %d chars", len(a))
	}
	for _, c := range a {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("Expected lowercase hex signature. Got %q", a)
		}
	}
}

func TestPrimary_InputSensitivity(t *testing.T) {
	s := NewSigner("test-secret")
	base := s.Primary("curl/8.4.0", "203.0.113.5", "/login")

	variants := []struct {
		name string
		sig  string
	}{
		{"different UA", s.Primary("curl/8.5.0", "203.0.113.5", "/login")},
		{"different IP", s.Primary("curl/8.4.0", "203.0.113.6", "/login")},
		{"different path", s.Primary("curl/8.4.0", "203.0.113.5", "/admin")},
	}
	for _, v := range variants {
		if v.sig == base {
			t.Errorf("Expected %s to change the signature", v.name)
		}
	}
}

func TestPrimary_SecretSensitivity(t *testing.T) {
	a := NewSigner("secret-a").Primary("Mozilla/5.0", "198.51.100.7", "/")
	b := NewSigner("secret-b").Primary("Mozilla/5.0", "198.51.100.7", "/")

	if a == b {
		t.Errorf("Expected different secrets to produce different signatures")
	}
}

func TestPrimary_SeparatorInjection(t *testing.T) {
	// "a|b" + "c" must not collide with "a" + "b|c": each input is
	// length-prefixed, so the triples hash differently even though the
	// concatenations match.
	s := NewSigner("test-secret")
	x := s.Primary("a|b", "c", "/")
	y := s.Primary("a", "b|c", "/")
	if x == y {
		t.Errorf("Expected distinct signatures for shifted separator inputs")
	}
}
