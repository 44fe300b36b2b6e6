package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/registry-indexer/internal/types"
)

func TestParse_ExtractionStrategies(t *testing.T) {
	tests := []struct {
		name        string
		log         string
		wantType    types.EventType
		wantPackage string
		wantVersion string // empty means no version expected
	}{
		{
			name:        "json fields",
			log:         `Program log: PackagePublished {"package":"test-pkg","version":"1.0.0"}`,
			wantType:    types.EventPublished,
			wantPackage: "test-pkg",
			wantVersion: "1.0.0",
		},
		{
			name:        "json fields with space after colon",
			log:         `Program log: PackageUpdated {"package": "spaced-pkg", "version": "0.2.1"}`,
			wantType:    types.EventUpdated,
			wantPackage: "spaced-pkg",
			wantVersion: "0.2.1",
		},
		{
			name:        "key value fields",
			log:         "Program log: Instruction: Update package=my-package version=2.0.0",
			wantType:    types.EventUpdated,
			wantPackage: "my-package",
			wantVersion: "2.0.0",
		},
		{
			name:        "quoted key value fields",
			log:         `Program log: Instruction: Download package="quoted-pkg" version='1.2.3'`,
			wantType:    types.EventDownloaded,
			wantPackage: "quoted-pkg",
			wantVersion: "1.2.3",
		},
		{
			name:        "colon separated fields",
			log:         "Program log: Download package: awesome-lib, version: 3.5.1",
			wantType:    types.EventDownloaded,
			wantPackage: "awesome-lib",
			wantVersion: "3.5.1",
		},
		{
			name:        "at format",
			log:         "Package published: awesome-math-utils@1.0.0",
			wantType:    types.EventPublished,
			wantPackage: "awesome-math-utils",
			wantVersion: "1.0.0",
		},
		{
			name:        "name without version",
			log:         `Program log: PackagePublished {"package":"no-version-pkg"}`,
			wantType:    types.EventPublished,
			wantPackage: "no-version-pkg",
		},
		{
			name:        "alternate name key",
			log:         "Program log: Instruction: Publish name=alt-named-pkg ver=0.0.9",
			wantType:    types.EventPublished,
			wantPackage: "alt-named-pkg",
			wantVersion: "0.0.9",
		},
		{
			name:        "mixed case marker",
			log:         "Program log: INSTRUCTION: DOWNLOAD package=shouty-pkg",
			wantType:    types.EventDownloaded,
			wantPackage: "shouty-pkg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := Parse(tt.log, "sig-1", 42, nil)
			if event == nil {
				t.Fatalf("Parse(%q) returned nil, want event", tt.log)
			}
			if event.EventType != tt.wantType {
				t.Errorf("event type = %s, want %s", event.EventType, tt.wantType)
			}
			if event.PackageName != tt.wantPackage {
				t.Errorf("package = %q, want %q", event.PackageName, tt.wantPackage)
			}
			if tt.wantVersion == "" {
				if event.Version != nil {
					t.Errorf("version = %q, want none", *event.Version)
				}
			} else {
				if event.Version == nil {
					t.Fatalf("version = nil, want %q", tt.wantVersion)
				}
				if *event.Version != tt.wantVersion {
					t.Errorf("version = %q, want %q", *event.Version, tt.wantVersion)
				}
			}
		})
	}
}

func TestParse_NoEvent(t *testing.T) {
	lines := []string{
		"Program log: Some random log message",
		"Program ABC invoke [1]",
		"Program consumed 2274 of 200000 compute units",
		"",
		"Program log: Instruction: Publish", // marker without any package info
	}

	for _, line := range lines {
		if event := Parse(line, "sig-1", 42, nil); event != nil {
			t.Errorf("Parse(%q) = %+v, want nil", line, event)
		}
	}
}

func TestParse_GenericEventMarker(t *testing.T) {
	event := Parse("Program log: event=PackagePublished package=generic-pkg version=4.0.0", "sig-2", 7, nil)
	if event == nil {
		t.Fatal("expected event from generic marker")
	}
	if event.EventType != types.EventPublished {
		t.Errorf("event type = %s, want %s", event.EventType, types.EventPublished)
	}
	if event.PackageName != "generic-pkg" {
		t.Errorf("package = %q, want generic-pkg", event.PackageName)
	}
}

func TestParse_CarriesTransactionContext(t *testing.T) {
	blockTime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	event := Parse("Package published: ctx-pkg@1.0.0", "sig-ctx", 9001, &blockTime)
	if event == nil {
		t.Fatal("expected event")
	}
	if event.TransactionSignature != "sig-ctx" {
		t.Errorf("signature = %q, want sig-ctx", event.TransactionSignature)
	}
	if event.Slot != 9001 {
		t.Errorf("slot = %d, want 9001", event.Slot)
	}
	if event.BlockTime == nil || !event.BlockTime.Equal(blockTime) {
		t.Errorf("block time = %v, want %v", event.BlockTime, blockTime)
	}
}

func TestExtractAtFormat_StripsDecoration(t *testing.T) {
	name, version, ok := extractAtFormat("Program log: 📦 Package published: ✨my-pkg@2.1.0")
	if !ok {
		t.Fatal("expected at-format match")
	}
	if name != "my-pkg" {
		t.Errorf("name = %q, want my-pkg", name)
	}
	if version == nil || *version != "2.1.0" {
		t.Errorf("version = %v, want 2.1.0", version)
	}
}

func TestExtractContentAddress(t *testing.T) {
	cidV0 := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

	tests := []struct {
		name string
		log  string
		want string
	}{
		{
			name: "ipfs_hash key",
			log:  "Program log: stored ipfs_hash=" + cidV0,
			want: cidV0,
		},
		{
			name: "cid colon key",
			log:  "Program log: pinned cid: " + cidV0 + " ok",
			want: cidV0,
		},
		{
			name: "bare token fallback",
			log:  "Program log: content at " + cidV0 + ", replicated",
			want: cidV0,
		},
		{
			name: "keyed value with trailing punctuation",
			log:  "Program log: cid=" + cidV0 + ", done",
			want: cidV0,
		},
		{
			name: "too short keyed value rejected",
			log:  "Program log: ipfs_hash=QmTooShort",
			want: "",
		},
		{
			name: "qm token too long rejected",
			log:  "Program log: Qm" + strings.Repeat("A", 64),
			want: "",
		},
		{
			name: "no address",
			log:  "Program log: nothing to see here",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractContentAddress(tt.log); got != tt.want {
				t.Errorf("ExtractContentAddress(%q) = %q, want %q", tt.log, got, tt.want)
			}
		})
	}
}
