package header

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const acmeMain = `<?php
/**
 * Plugin Name: Acme Tool
 * Plugin URI: https://example.com/acme-tool
 * Description: Does acme things.
 * Version: 2.0.1
 * Author: Acme Inc
 * Author URI: https://example.com
 * Requires at least: 5.0
 * Requires PHP: 7.4
 * Text Domain: acme-tool
 */
`

func TestParseMainReadsAllFields(t *testing.T) {
	h, err := ParseMain(strings.NewReader(acmeMain), DefaultMarker)
	if err != nil {
		t.Fatalf("ParseMain() error = %v", err)
	}

	want := &Header{
		Name:        "Acme Tool",
		URI:         "https://example.com/acme-tool",
		Version:     "2.0.1",
		Description: "Does acme things.",
		Author:      "Acme Inc",
		RequiresWP:  "5.0",
		RequiresPHP: "7.4",
		TextDomain:  "acme-tool",
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMainVariants(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantVersion string
		wantErr     error
	}{
		{
			name:        "hash comments",
			content:     "# Plugin Name: Hashy\n# Version: 1.4\n",
			wantVersion: "1.4",
		},
		{
			name:        "single line comment closer",
			content:     "/* Plugin Name: Inline */\n/* Version: 3.2 */\n",
			wantVersion: "3.2",
		},
		{
			name:        "case insensitive key",
			content:     "Plugin Name: Lower\nversion: 0.9\n",
			wantVersion: "0.9",
		},
		{
			name:        "carriage returns",
			content:     "Plugin Name: Old Mac\rVersion: 1.1\r",
			wantVersion: "1.1",
		},
		{
			name:    "no marker",
			content: "Version: 1.0\n",
			wantErr: ErrNoMarker,
		},
		{
			name:    "marker without version",
			content: "Plugin Name: Versionless\n",
			wantErr: ErrNoVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseMain(strings.NewReader(tt.content), "")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseMain() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMain() unexpected error = %v", err)
			}
			if h.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", h.Version, tt.wantVersion)
			}
		})
	}
}

func TestMarkerBeyondHeaderWindowIsIgnored(t *testing.T) {
	content := strings.Repeat("x", MaxHeaderBytes) + "\nPlugin Name: Too Late\nVersion: 9.9\n"

	if HasMarker([]byte(content), DefaultMarker) {
		t.Error("HasMarker should ignore content beyond the header window")
	}
	if _, err := ParseMain(strings.NewReader(content), DefaultMarker); !errors.Is(err, ErrNoMarker) {
		t.Errorf("ParseMain() error = %v, want ErrNoMarker", err)
	}
}

func TestParseDoesNotRequireMarker(t *testing.T) {
	h, err := Parse(strings.NewReader("Version: 4.0\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if h.Version != "4.0" || h.Name != "" {
		t.Errorf("Parse() = %+v", h)
	}
}
