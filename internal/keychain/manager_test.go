// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package keychain

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRoundTrip(t *testing.T) {
	m := NewWithKeyring(keyring.NewArrayKeyring(nil))

	_, err := m.LoadAPIKey()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveAPIKey("  sk-test  "))
	key, err := m.LoadAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	require.NoError(t, m.ClearAPIKey())
	_, err = m.LoadAPIKey()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, m.ClearAPIKey())

	assert.Error(t, m.SaveAPIKey(" "))
}
