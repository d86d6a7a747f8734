package rlog

import (
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
)

func TestNewWrapsGivenLogr(t *testing.T) {
	var lines []string
	sink := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})

	log := New(sink)
	log.Infof("hello %s", "world")
	log.Warnf("careful %d", 3)
	log.Errorf("boom %s", "oops")

	assert.Len(t, lines, 3)
}

func TestWithCarriesKeyValuesToChildLogger(t *testing.T) {
	var lines []string
	sink := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})

	child := New(sink).With("entity", "widget")
	child.Infof("fetched")

	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "entity")
	assert.Contains(t, lines[0], "widget")
}

func TestDiscardDropsEverything(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Infof("x")
		Discard.Warnf("y")
		Discard.Errorf("z")
		Discard.With("k", "v").Infof("w")
	})
}

func TestNewStandardReturnsUsableLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewStandard().Infof("started")
	})
}
