package messaging

import "testing"

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+6281234567890", "6281234567890"},
		{"6281234567890", "6281234567890"},
		{"081234567890", "6281234567890"},
		{"0812-3456-7890", "6281234567890"},
		{"+62 812 3456 7890", "6281234567890"},
	}
	for _, c := range cases {
		got, err := CanonicalizePhone(c.in)
		if err != nil {
			t.Errorf("CanonicalizePhone(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalizePhone_LocalAndInternationalMatch(t *testing.T) {
	a, err := CanonicalizePhone("081234567890")
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalizePhone("+6281234567890")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("local form %q and international form %q should canonicalize identically", a, b)
	}
}

func TestCanonicalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12345"} {
		if _, err := CanonicalizePhone(in); err == nil {
			t.Errorf("CanonicalizePhone(%q) should fail", in)
		}
	}
}
