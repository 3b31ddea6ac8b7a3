package mqttsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/audiocore/internal/audiocore/bus"
	"github.com/tphakala/audiocore/internal/audiocore/registry"
)

func TestNameReportsSinkIdentity(t *testing.T) {
	s := New(Config{Broker: "tcp://localhost:1883"})
	assert.Equal(t, "mqttsink", s.Name())
}

func TestHandleEventFailsWhenNotConnected(t *testing.T) {
	s := New(Config{Broker: "tcp://localhost:1883"})
	err := s.HandleEvent(bus.Event{Kind: registry.KindSink, Action: bus.ActionNew, Index: 1})
	assert.Error(t, err)
}

func TestConnectRejectsInvalidBrokerURL(t *testing.T) {
	s := New(Config{Broker: "://not-a-url"})
	err := s.Connect(context.Background())
	assert.Error(t, err)
}
