package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckValues(t *testing.T) {
	check := []byte("123456789")
	assert.Equal(t, uint16(0x906E), Checksum(X25, check))
	assert.Equal(t, uint16(0xBB3D), Checksum(IBM, check))
}

func TestEmpty(t *testing.T) {
	assert.Equal(t, uint16(0x0000), Checksum(X25, nil))
	assert.Equal(t, uint16(0x0000), Checksum(IBM, nil))
}
