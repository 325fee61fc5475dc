package commands

import (
	"slices"
	"testing"
)

func TestListed(t *testing.T) {
	if !(Command{}).Listed() {
		t.Fatal("plain command should be listed")
	}
	if (Command{Hidden: true}).Listed() || (Command{AdminOnly: true}).Listed() {
		t.Fatal("hidden and admin commands stay out of the menu")
	}
}

func TestAliases(t *testing.T) {
	c := Command{Aliases: []string{"lang", "/language", " ", "/setlang"}}
	if !c.Matches("/lang") || !c.Matches("language") {
		t.Fatal("expected alias match")
	}
	if c.Matches("/start") {
		t.Fatal("unexpected match")
	}
	got := c.Endpoints("/setlang")
	want := []string{"/setlang", "/lang", "/language"}
	if !slices.Equal(got, want) {
		t.Fatalf("endpoints = %v, want %v", got, want)
	}
}
