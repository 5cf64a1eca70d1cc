// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptor(t *testing.T) {
	d := Descriptor{Node: "enb1", Host: "pc01.emulab.net"}
	assert.Equal(t, "pc01.emulab.net:22", d.Addr())
	assert.Equal(t, "enb1(pc01.emulab.net:22)", d.String())

	d.Port = 2222
	d.User = "oai"
	assert.Equal(t, "pc01.emulab.net:2222", d.Addr())
	assert.Equal(t, "enb1(oai@pc01.emulab.net:2222)", d.String())
}
