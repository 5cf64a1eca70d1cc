// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"strings"

	"github.com/google/uuid"
)

// nameSuffixLen is the length of the random part of a generated name.
const nameSuffixLen = 7

// NewName returns prefix followed by a random lower-case alphanumeric suffix.
func NewName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + suffix[:nameSuffixLen]
}
