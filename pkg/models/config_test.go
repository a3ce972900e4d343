package models

import "testing"

func TestEffectiveAccessLogEnabledExplicitWins(t *testing.T) {
	yes, no := true, false
	if !EffectiveAccessLogEnabled(Site{AccessLogEnabled: &yes}, ModeSpeedtest) {
		t.Error("expected an explicit true to win over SPEEDTEST's default")
	}
	if EffectiveAccessLogEnabled(Site{AccessLogEnabled: &no}, ModeDev) {
		t.Error("expected an explicit false to win over DEV's default")
	}
}

func TestEffectiveAccessLogEnabledDefaultsByMode(t *testing.T) {
	site := Site{} // AccessLogEnabled unset
	for _, mode := range []OperationMode{ModeDev, ModeDebug, ModeProduction} {
		if !EffectiveAccessLogEnabled(site, mode) {
			t.Errorf("mode %s: expected access logging to default on", mode)
		}
	}
	if EffectiveAccessLogEnabled(site, ModeSpeedtest) {
		t.Error("SPEEDTEST: expected access logging to default off")
	}
}
