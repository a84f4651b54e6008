// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"testing"
	"time"

	"golang.org/x/text/language"
)

func TestNew(t *testing.T) {
	t.Run("new i18n provider with empty locale string succeeds", func(t *testing.T) {
		provider, err := New("")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected i18n provider to be non-nil")
		}
	})
	t.Run("english source strings are returned as is", func(t *testing.T) {
		provider, err := New("en")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		want := "Low Fuel Warning"
		if got := provider.Get("Low Fuel Warning"); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
	t.Run("german translation is found", func(t *testing.T) {
		provider, err := New("de-DE")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		want := "Warnung: Kraftstoff niedrig"
		if got := provider.Get("Low Fuel Warning"); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
		want = "Kraftstoff in Reserve! Nur noch 1.2 L übrig."
		if got := provider.Getf("Fuel is in reserve! Only %.1f L remaining.", 1.234); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}

func TestNewHumanizer(t *testing.T) {
	humanizer, err := NewHumanizer(language.English)
	if err != nil {
		t.Fatalf("failed to create humanizer: %s", err)
	}
	if got := humanizer.NaturalTime(time.Now().Add(-time.Hour * 3)); got == "" {
		t.Error("expected natural time to be non-empty")
	}
}
