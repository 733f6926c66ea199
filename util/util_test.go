package util

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	if l := NewLogger("x", false); l.IsDebug() {
		t.Fatal("debug without verbose")
	}
	l := NewLogger("x", true)
	if !l.IsDebug() {
		t.Fatal("not debug")
	}
	if l.Name() != "x" {
		t.Fatal(l.Name())
	}
}
