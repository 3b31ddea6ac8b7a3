package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNameRules(t *testing.T) {
	assert.NoError(t, ValidateName("sink.analog"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("1sink"))
	assert.Error(t, ValidateName("has space"))
	assert.Error(t, ValidateName("tab\ttab"))
	assert.Error(t, ValidateName(string(make([]byte, MaxNameLength+1))))
}

func TestRegisterAutoRenamesOnCollision(t *testing.T) {
	r := New(nil)
	first, err := r.Register("alsa_output", KindSink, "entityA", false)
	require.NoError(t, err)
	assert.Equal(t, "alsa_output", first)

	second, err := r.Register("alsa_output", KindSink, "entityB", false)
	require.NoError(t, err)
	assert.Equal(t, "alsa_output.1", second)

	third, err := r.Register("alsa_output", KindSink, "entityC", false)
	require.NoError(t, err)
	assert.Equal(t, "alsa_output.2", third)
}

func TestRegisterFailsOnCollisionWhenRequested(t *testing.T) {
	r := New(nil)
	_, err := r.Register("x", KindSink, "a", false)
	require.NoError(t, err)
	_, err = r.Register("x", KindSink, "b", true)
	assert.Error(t, err)
}

func TestFirstRegisteredBecomesDefault(t *testing.T) {
	r := New(nil)
	_, err := r.Register("a", KindSource, 1, false)
	require.NoError(t, err)
	_, err = r.Register("b", KindSource, 2, false)
	require.NoError(t, err)

	name, ok := r.Default(KindSource)
	require.True(t, ok)
	assert.Equal(t, "a", name)

	v, err := r.Get("", KindSource, false)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSetDefaultChangesResolution(t *testing.T) {
	r := New(nil)
	_, _ = r.Register("a", KindSink, "A", false)
	_, _ = r.Register("b", KindSink, "B", false)
	require.NoError(t, r.SetDefault("b", KindSink))

	v, err := r.Get("", KindSink, false)
	require.NoError(t, err)
	assert.Equal(t, "B", v)
}

type fakeLoader struct {
	loaded []string
	onLoad func(name string) any
}

func (f *fakeLoader) Load(name, args string) (any, error) {
	f.loaded = append(f.loaded, name)
	if f.onLoad != nil {
		return f.onLoad(name), nil
	}
	return nil, nil
}

func TestGetAutoloadsOnMissThenRetries(t *testing.T) {
	var reg *NameRegistry
	loader := &fakeLoader{onLoad: func(name string) any {
		_, _ = reg.Register(name, KindModule, "loaded-entity", false)
		return nil
	}}
	reg = New(loader)

	require.NoError(t, reg.AddAutoload("module-foo", KindModule, "arg=1"))

	v, err := reg.Get("module-foo", KindModule, true)
	require.NoError(t, err)
	assert.Equal(t, "loaded-entity", v)
	assert.Equal(t, []string{"module-foo"}, loader.loaded)
}

func TestGetWithoutAutoloadBindingFails(t *testing.T) {
	r := New(nil)
	_, err := r.Get("missing", KindModule, true)
	assert.Error(t, err)
}

func TestUnregisterClearsDefault(t *testing.T) {
	r := New(nil)
	_, _ = r.Register("only", KindClient, "c", false)
	r.Unregister("only", KindClient)

	_, ok := r.Default(KindClient)
	assert.False(t, ok)
	_, err := r.Get("only", KindClient, false)
	assert.Error(t, err)
}
