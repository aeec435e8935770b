package config

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("FLEETGOV_TEST_STR", "")
	if got := EnvOr("FLEETGOV_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("unset: got %q", got)
	}
	t.Setenv("FLEETGOV_TEST_STR", ":8082")
	if got := EnvOr("FLEETGOV_TEST_STR", "fallback"); got != ":8082" {
		t.Errorf("set: got %q", got)
	}
}

func TestEnvOrInt(t *testing.T) {
	t.Setenv("FLEETGOV_TEST_INT", "42")
	if got := EnvOrInt("FLEETGOV_TEST_INT", 7); got != 42 {
		t.Errorf("got %d", got)
	}
	t.Setenv("FLEETGOV_TEST_INT", "forty-two")
	if got := EnvOrInt("FLEETGOV_TEST_INT", 7); got != 7 {
		t.Errorf("invalid value: got %d, want fallback", got)
	}
}

func TestEnvOrBool(t *testing.T) {
	t.Setenv("FLEETGOV_TEST_BOOL", "true")
	if !EnvOrBool("FLEETGOV_TEST_BOOL", false) {
		t.Error("want true")
	}
	t.Setenv("FLEETGOV_TEST_BOOL", "maybe")
	if !EnvOrBool("FLEETGOV_TEST_BOOL", true) {
		t.Error("invalid value should fall back to true")
	}
}

func TestEnvOrDuration(t *testing.T) {
	t.Setenv("FLEETGOV_TEST_DUR", "")
	if got := EnvOrDuration("FLEETGOV_TEST_DUR", time.Hour, 168*time.Hour); got != 168*time.Hour {
		t.Errorf("unset: got %s", got)
	}
	t.Setenv("FLEETGOV_TEST_DUR", "24")
	if got := EnvOrDuration("FLEETGOV_TEST_DUR", time.Hour, 0); got != 24*time.Hour {
		t.Errorf("set: got %s", got)
	}
	t.Setenv("FLEETGOV_TEST_DUR", "0")
	if got := EnvOrDuration("FLEETGOV_TEST_DUR", time.Second, time.Minute); got != 0 {
		t.Errorf("zero: got %s", got)
	}
	t.Setenv("FLEETGOV_TEST_DUR", "-3")
	if got := EnvOrDuration("FLEETGOV_TEST_DUR", time.Second, time.Minute); got != time.Minute {
		t.Errorf("negative: got %s", got)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("FLEETGOV_TEST_LIST", " a, ,b ,c")
	if got := EnvList("FLEETGOV_TEST_LIST"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("got %v", got)
	}
	t.Setenv("FLEETGOV_TEST_LIST", "")
	if got := EnvList("FLEETGOV_TEST_LIST"); got != nil {
		t.Errorf("empty: got %v", got)
	}
}
