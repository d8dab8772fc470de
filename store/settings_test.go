package store

import (
	"errors"
	"testing"
	"time"
)

func TestBotSettingsDefaults(t *testing.T) {
	s := newTestStore(t)
	defaults := DefaultBotSettings(50, 180)

	got, err := s.BotSettings(defaults)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if got != defaults {
		t.Errorf("empty store settings = %+v, want defaults %+v", got, defaults)
	}
}

func TestBotSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := BotSettings{
		PromptPreset:     "conservative",
		MinMarginUSD:     5,
		MinBalanceUSD:    25,
		MaxMarginUSD:     100,
		IntervalSeconds:  60,
		MaxOpenPositions: 2,
	}
	if err := s.SaveBotSettings(want); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	got, err := s.BotSettings(DefaultBotSettings(50, 180))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestBotSettingsMalformedFallsBack(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetSetting(SettingMaxOpenPositions, "lots"); err != nil {
		t.Fatalf("set setting: %v", err)
	}

	defaults := DefaultBotSettings(50, 180)
	got, err := s.BotSettings(defaults)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if got.MaxOpenPositions != defaults.MaxOpenPositions {
		t.Errorf("max open positions = %d, want default %d", got.MaxOpenPositions, defaults.MaxOpenPositions)
	}
}

func TestNextCycleTime(t *testing.T) {
	s := newTestStore(t)

	got, err := s.NextCycleTime()
	if err != nil {
		t.Fatalf("unset next cycle: %v", err)
	}
	if got != nil {
		t.Errorf("unset next cycle = %v, want nil", got)
	}

	want := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if err := s.SetNextCycleTime(want); err != nil {
		t.Fatalf("set next cycle: %v", err)
	}

	got, err = s.NextCycleTime()
	if err != nil {
		t.Fatalf("get next cycle: %v", err)
	}
	if got == nil || !got.Equal(want) {
		t.Errorf("next cycle = %v, want %v", got, want)
	}
}

func TestOperatorInputSingleActive(t *testing.T) {
	s := newTestStore(t)

	first, err := s.SaveOperatorInput("watch the CPI print", InputCycle, "")
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := s.SaveOperatorInput("reduce risk into the weekend", InputCycle, "uploads/chart.png")
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	active, err := s.ActiveOperatorInput()
	if err != nil {
		t.Fatalf("active input: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active id = %q, want %q", active.ID, second.ID)
	}
	if active.ImagePath != "uploads/chart.png" {
		t.Errorf("image path = %q, want uploads/chart.png", active.ImagePath)
	}

	all, err := s.RecentOperatorInputs(10)
	if err != nil {
		t.Fatalf("recent inputs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("input count = %d, want 2", len(all))
	}
	activeCount := 0
	for _, in := range all {
		if in.IsActive {
			activeCount++
		}
		if in.ID == first.ID && in.IsActive {
			t.Error("first input still active after second save")
		}
	}
	if activeCount != 1 {
		t.Errorf("active count = %d, want 1", activeCount)
	}

	if err := s.ArchiveActiveInput(); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.ActiveOperatorInput(); !errors.Is(err, ErrNotFound) {
		t.Errorf("active after archive = %v, want ErrNotFound", err)
	}

	// Archiving with nothing active stays quiet.
	if err := s.ArchiveActiveInput(); err != nil {
		t.Errorf("double archive: %v", err)
	}
}

func TestOperatorInputDefaultsToCycle(t *testing.T) {
	s := newTestStore(t)

	input, err := s.SaveOperatorInput("note", "", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if input.MessageType != InputCycle {
		t.Errorf("message type = %q, want %q", input.MessageType, InputCycle)
	}
}
