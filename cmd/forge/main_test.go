package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "session", "workers", "config", "profile"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPathDefaultsToProfileConfigPath(t *testing.T) {
	profileName = ""
	path := resolveConfigPath("")
	if path == "" {
		t.Fatal("expected a non-empty default config path")
	}
}
