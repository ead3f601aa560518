package flow

import "testing"

func TestExtractMobile(t *testing.T) {
	cases := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"9876543210", "9876543210", true},
		{"call me at 9876543210 please", "9876543210", true},
		{"+91 9876543210", "9876543210", true},
		{"919876543210", "9876543210", true},
		{"91-9876543210", "9876543210", true},
		{"12345", "", false},
		{"my number is 1234567890", "", false}, // must start with 6-9
		{"no number here", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractMobile(c.text)
		if ok != c.wantOK || got != c.want {
			t.Errorf("ExtractMobile(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.wantOK)
		}
	}
}

func TestExtractName(t *testing.T) {
	cases := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"John Doe", "John Doe", true},
		{"  asha  rao ", "Asha Rao", true},
		{"RAVI", "Ravi", true},
		{"Anna Maria Dos Santos", "Anna Maria Dos Santos", true},
		{"One Two Three Four Five", "", false},
		{"John123", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractName(c.text)
		if ok != c.wantOK || got != c.want {
			t.Errorf("ExtractName(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.wantOK)
		}
	}
}

func TestExtractComplaintID(t *testing.T) {
	cases := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"GRV123456", "GRV123456", true},
		{"my id is grv123456", "GRV123456", true},
		{"status of GRV000042?", "GRV000042", true},
		{"GRV12345", "", false},  // too short
		{"AGRV123456", "", false}, // not a word boundary
		{"nothing here", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractComplaintID(c.text)
		if ok != c.wantOK || got != c.want {
			t.Errorf("ExtractComplaintID(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.wantOK)
		}
	}
}
