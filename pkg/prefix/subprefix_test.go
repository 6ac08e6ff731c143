package prefix

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestCalculateUserPrefix_Scenario(t *testing.T) {
	agent := mustParseCIDR(t, "2001:db8:1234::/48")
	tag := uint32(0x12345678)

	got, err := CalculateUserPrefix(agent, tag)
	require.NoError(t, err)

	want := mustParseCIDR(t, "2001:db8:1234:1234:5678::/80")
	assert.Equal(t, want.String(), got.String())
}

func TestValidateUserIPv6_Scenario(t *testing.T) {
	agent := mustParseCIDR(t, "2001:db8:1234::/48")
	tag := uint32(0x12345678)

	assert.True(t, ValidateUserIPv6(net.ParseIP("2001:db8:1234:1234:5678::1"), agent, tag))
	assert.False(t, ValidateUserIPv6(net.ParseIP("2001:db8:1234:9999:8888::1"), agent, tag))
}

func TestCalculateUserPrefix_NotAllocatable(t *testing.T) {
	agent := mustParseCIDR(t, "2001:db8::/100")
	_, err := CalculateUserPrefix(agent, 42)
	assert.ErrorIs(t, err, ErrNotAllocatable)
}

func TestValidateUserIPv6_IPv4Rejected(t *testing.T) {
	agent := mustParseCIDR(t, "2001:db8:1234::/48")
	assert.False(t, ValidateUserIPv6(net.ParseIP("192.0.2.1"), agent, 42))
}

func TestValidateUserIPv6_ContainmentProperty(t *testing.T) {
	agents := []string{
		"2001:db8::/32",
		"2001:db8:1234::/48",
		"fd00::/64",
		"2001:db8:a:b::/96",
	}
	tags := []uint32{1000, 42, 0xABCDEF01, 0xFFFFFF00}

	for _, a := range agents {
		agent := mustParseCIDR(t, a)
		for _, tag := range tags {
			userPrefix, err := CalculateUserPrefix(agent, tag)
			require.NoError(t, err)

			inside := userPrefix.IP
			assert.True(t, ValidateUserIPv6(inside, agent, tag), "agent=%s tag=%d", a, tag)

			outside := net.ParseIP("::1")
			if !userPrefix.Contains(outside) {
				assert.False(t, ValidateUserIPv6(outside, agent, tag), "agent=%s tag=%d", a, tag)
			}
		}
	}
}
