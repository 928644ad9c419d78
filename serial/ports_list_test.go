package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CK6170/Intellispec-go/models"
)

func TestHasPort(t *testing.T) {
	ports := []models.PortInfo{{Name: "COM3"}, {Name: "/dev/ttyUSB0"}}
	tests := []struct {
		name string
		port string
		want bool
	}{
		{name: "exact", port: "COM3", want: true},
		{name: "case insensitive", port: "com3", want: true},
		{name: "trimmed", port: " /dev/ttyUSB0 ", want: true},
		{name: "missing", port: "COM4", want: false},
		{name: "empty", port: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPort(ports, tt.port))
		})
	}
	assert.False(t, HasPort(nil, "COM3"))
}
