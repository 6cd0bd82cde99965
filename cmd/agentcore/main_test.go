package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubcommandsAreRegistered(t *testing.T) {
	serve := newServeCommand()
	migrate := newMigrateCommand()
	gc := newGCCommand()

	assert.Equal(t, "serve", serve.Use)
	assert.Equal(t, "migrate", migrate.Use)
	assert.Equal(t, "gc", gc.Use)
	assert.NotNil(t, serve.RunE)
	assert.NotNil(t, migrate.RunE)
	assert.NotNil(t, gc.RunE)
}
