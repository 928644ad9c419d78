package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Phase Phase `json:"phase"`
	}{Calibrating})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"calibrating"}`, string(b))

	var got struct {
		Phase Phase `json:"phase"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"phase":" Measuring "}`), &got))
	assert.Equal(t, Measuring, got.Phase)

	assert.Error(t, json.Unmarshal([]byte(`{"phase":"warming"}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`{"phase":2}`), &got))
}
