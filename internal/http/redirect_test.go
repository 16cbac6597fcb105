package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalRedirect(t *testing.T) {
	tests := []struct {
		target   string
		expected string
	}{
		{target: "/reports?period=7d", expected: "/reports?period=7d"},
		{target: "/settings", expected: "/settings"},
		{target: "", expected: "/dashboard"},
		{target: "reports", expected: "/dashboard"},
		{target: "https://evil.example/", expected: "/dashboard"},
		{target: "//evil.example/", expected: "/dashboard"},
		{target: "/\\evil.example", expected: "/dashboard"},
		{target: "/ok\r\nSet-Cookie: x=1", expected: "/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			require.Equal(t, tt.expected, LocalRedirect(tt.target, "/dashboard"))
		})
	}
}

func TestLoginRedirect(t *testing.T) {
	require.Equal(t, "/login?next=%2Freports%3Fperiod%3D7d", LoginRedirect("/login", "/reports?period=7d"))
	require.Equal(t, "/login", LoginRedirect("/login", ""))
	require.Equal(t, "/login", LoginRedirect("/login", "/login"))
}
