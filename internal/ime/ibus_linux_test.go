//go:build linux

package ime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func ibusText(s string) dbus.Variant {
	return dbus.MakeVariant([]any{"IBusText", map[string]dbus.Variant{}, s, dbus.MakeVariant(uint32(0))})
}

func TestTranslate(t *testing.T) {
	name := func(member string) string { return IBusInputContextInterface + "." + member }

	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   Signal
		wantOK bool
	}{
		{"visible preedit", &dbus.Signal{Name: name(ibusUpdatePreedit), Body: []any{ibusText("かな"), uint32(2), true}}, CompositionUpdate, true},
		{"visible preedit with mode", &dbus.Signal{Name: name(ibusUpdatePreeditWithMode), Body: []any{ibusText("漢"), uint32(1), true, uint32(0)}}, CompositionUpdate, true},
		{"hidden preedit", &dbus.Signal{Name: name(ibusUpdatePreedit), Body: []any{ibusText("かな"), uint32(2), false}}, CompositionEnd, true},
		{"empty preedit", &dbus.Signal{Name: name(ibusUpdatePreedit), Body: []any{ibusText(""), uint32(0), true}}, CompositionEnd, true},
		{"short body", &dbus.Signal{Name: name(ibusUpdatePreedit), Body: []any{ibusText("x")}}, 0, false},
		{"show", &dbus.Signal{Name: name(ibusShowPreedit)}, CompositionStart, true},
		{"hide", &dbus.Signal{Name: name(ibusHidePreedit)}, CompositionEnd, true},
		{"commit", &dbus.Signal{Name: name(ibusCommitText), Body: []any{ibusText("漢字")}}, CompositionEnd, true},
		{"other member", &dbus.Signal{Name: name("Enabled")}, 0, false},
		{"other interface", &dbus.Signal{Name: "org.freedesktop.DBus.NameOwnerChanged"}, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translate(tt.sig)
			if ok != tt.wantOK {
				t.Fatalf("translate() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("translate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreeditTextRejectsOtherTypes(t *testing.T) {
	if got := preeditText(dbus.MakeVariant([]any{"IBusAttrList", map[string]dbus.Variant{}, "x"})); got != "" {
		t.Errorf("preeditText() = %q, want empty", got)
	}
	if got := preeditText("plain"); got != "" {
		t.Errorf("preeditText() = %q, want empty", got)
	}
}

func TestAddressFromBusDir(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "old-unix-0")
	newer := filepath.Join(dir, "new-unix-0")
	if err := os.WriteFile(older, []byte("IBUS_ADDRESS=unix:path=/tmp/old\n"), 0600); err != nil {
		t.Fatal(err)
	}
	content := "# This file is created by ibus-daemon\nIBUS_ADDRESS=unix:abstract=/tmp/new,guid=abc\nIBUS_DAEMON_PID=42\n"
	if err := os.WriteFile(newer, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	addr, err := addressFromBusDir(dir)
	if err != nil {
		t.Fatalf("addressFromBusDir() error = %v", err)
	}
	if addr != "unix:abstract=/tmp/new,guid=abc" {
		t.Errorf("addressFromBusDir() = %q", addr)
	}
}

func TestAddressFromBusDirEmpty(t *testing.T) {
	if _, err := addressFromBusDir(t.TempDir()); err == nil {
		t.Error("expected error for empty bus dir")
	}
	if _, err := addressFromBusDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing bus dir")
	}
}
