// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build !darwin

package keychain

import "errors"

var errSecurityNotFound = errors.New("key not found")

// securityBackend only exists on macOS.
type securityBackend struct{}

func newSecurityBackend() (*securityBackend, error) {
	return nil, errors.New("security backend only available on macOS")
}

func (s *securityBackend) Set(string, string) error   { return errSecurityNotFound }
func (s *securityBackend) Get(string) (string, error) { return "", errSecurityNotFound }
func (s *securityBackend) Delete(string) error        { return nil }
