package domain

import "testing"

func TestHasVariant(t *testing.T) {
	ch := &Channel{AvailableMsgs: []string{"0", "1", "2"}}

	tests := []struct {
		variant string
		want    bool
	}{
		{"0", true},
		{"1", true},
		{"5", false},
	}

	for _, tt := range tests {
		if got := ch.HasVariant(tt.variant); got != tt.want {
			t.Errorf("HasVariant(%q) = %v, want %v", tt.variant, got, tt.want)
		}
	}
}

func TestRemoveVariant(t *testing.T) {
	in := []string{"0", "1", "2"}
	out := RemoveVariant(in, "1")

	if len(out) != 2 {
		t.Fatalf("expected 2 remaining variants, got %d", len(out))
	}
	for _, v := range out {
		if v == "1" {
			t.Errorf("variant 1 should have been removed, got %v", out)
		}
	}
	if len(in) != 3 {
		t.Errorf("RemoveVariant must not mutate its input, got %v", in)
	}
}

func TestIsAccountPermanent(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeUserDeactivated, true},
		{CodeAuthKeyUnregistered, true},
		{CodeSessionRevoked, true},
		{CodePhoneBanned, true},
		{"FLOOD_WAIT_30", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAccountPermanent(tt.code); got != tt.want {
			t.Errorf("IsAccountPermanent(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNormalizeChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want ChannelID
	}{
		{"-1001234567890", "1234567890"},
		{"1234567890", "1234567890"},
		{"  -1009999  ", "9999"},
	}

	for _, tt := range tests {
		if got := NormalizeChannelID(tt.in); got != tt.want {
			t.Errorf("NormalizeChannelID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
