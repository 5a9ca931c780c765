package cmd

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"", "b", 1},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
	}
	for _, tt := range tests {
		got := editDistance(tt.a, tt.b)
		if got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []string{"chat", "reset", "send", "start", "status", "transcript", "version"}
	tests := []struct {
		input string
		want  string
	}{
		{"chta", "chat"},
		{"rset", "reset"},
		{"sned", "send"},
		{"transcrit", "transcript"},
		{"verison", "version"},
		{"zzzzzzzzz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := suggestCommand(tt.input, commands)
		if got != tt.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flags := []string{"--since", "--limit", "--name", "--email", "--output"}
	tests := []struct {
		input string
		want  string
	}{
		{"--sinse", "--since"},
		{"--limt", "--limit"},
		{"-nme", "--name"},
		{"--emial", "--email"},
		{"--zzzzzzzz", ""},
	}
	for _, tt := range tests {
		got := suggestFlag(tt.input, flags)
		if got != tt.want {
			t.Errorf("suggestFlag(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSuggestSlashCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/ret", "/retry"},
		{"/dsm", "/dismiss"},
		{"/STAT", "/status"},
		{"/retyr", "/retry"},
		{"/hlep", "/help"},
		{"/", ""},
		{"/xxxxxxxxx", ""},
	}
	for _, tt := range tests {
		got := suggestSlashCommand(tt.input, slashCommands)
		if got != tt.want {
			t.Errorf("suggestSlashCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
