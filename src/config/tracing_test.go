package config

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProviderStdout(t *testing.T) {
	var out bytes.Buffer
	tp, err := NewTracerProvider(TraceExporterStdout, &out)
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "gateway.login")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name":"gateway.login"`)
	assert.Contains(t, out.String(), serviceName)
}

func TestNewTracerProviderNone(t *testing.T) {
	tp, err := NewTracerProvider(TraceExporterNone, nil)
	require.NoError(t, err)
	assert.Nil(t, tp)

	_, err = NewTracerProvider("zipkin", nil)
	assert.Error(t, err)
}
