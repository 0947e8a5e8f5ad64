package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Setup(Config{}) })

	Component("search").WithField("search_id", "S1").Debug("record created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "search", line["component"])
	require.Equal(t, "S1", line["search_id"])
	require.Equal(t, "record created", line["msg"])
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	Setup(Config{Level: "chatty"})
	t.Cleanup(func() { Setup(Config{}) })
	require.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
