package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	results []Settings
	errs    []error
	calls   int
}

func (f *fakeSource) FetchSettings(context.Context) (Settings, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var s Settings
	if i < len(f.results) {
		s = f.results[i]
	}
	return s, err
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	src := &fakeSource{results: []Settings{{WelcomeMessage: "Namaste"}}}
	st := NewStore(src, nil)

	got := st.Load(context.Background())
	require.Equal(t, "en", got.DefaultLanguage)
	require.Equal(t, int64(7000), got.SliderIntervalMS)
	require.Equal(t, "Namaste", got.WelcomeMessage)
	require.Equal(t, 7*time.Second, got.SliderInterval())
	require.True(t, st.Loaded())
}

func TestLoadIsCachedAfterSuccess(t *testing.T) {
	src := &fakeSource{results: []Settings{{SliderIntervalMS: 3000}, {SliderIntervalMS: 9000}}}
	st := NewStore(src, nil)

	require.Equal(t, int64(3000), st.Load(context.Background()).SliderIntervalMS)
	require.Equal(t, int64(3000), st.Load(context.Background()).SliderIntervalMS)
	require.Equal(t, 1, src.calls)

	require.Equal(t, int64(9000), st.Reload(context.Background()).SliderIntervalMS)
	require.Equal(t, 2, src.calls)
}

func TestLoadFailureReturnsDefaultsAndStaysUnloaded(t *testing.T) {
	src := &fakeSource{
		errs:    []error{errors.New("offline"), nil},
		results: []Settings{{}, {DefaultLanguage: "hi", SliderIntervalMS: 5000}},
	}
	st := NewStore(src, nil)

	got := st.Load(context.Background())
	require.Equal(t, Defaults(), got)
	require.False(t, st.Loaded())

	got = st.Load(context.Background())
	require.Equal(t, "hi", got.DefaultLanguage)
	require.Equal(t, int64(5000), got.SliderIntervalMS)
	require.True(t, st.Loaded())
}

func TestReloadFailureKeepsLastGoodSettings(t *testing.T) {
	src := &fakeSource{
		errs:    []error{nil, errors.New("timeout")},
		results: []Settings{{SliderIntervalMS: 2500}},
	}
	st := NewStore(src, nil)
	st.Load(context.Background())

	got := st.Reload(context.Background())
	require.Equal(t, int64(2500), got.SliderIntervalMS)
	require.True(t, st.Loaded())
}

func TestWithDefaultsRejectsNonPositiveInterval(t *testing.T) {
	got := Settings{SliderIntervalMS: -5}.WithDefaults()
	require.Equal(t, int64(DefaultSliderIntervalMS), got.SliderIntervalMS)
}
