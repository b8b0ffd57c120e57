package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithStdoutExporterSucceeds(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := StartCommandSpan(context.Background(), "Continue")
	span.End()
}

func TestInitDisabledReturnsNoopProvider(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitOTLPWithoutEndpointErrors(t *testing.T) {
	_, err := Init(Config{Enabled: true, ExporterType: "otlp"})
	assert.Error(t, err)
}

func TestStartSuspensionSpanCarriesTaskID(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := StartSuspensionSpan(context.Background(), 7, "step-over")
	span.End()
}
