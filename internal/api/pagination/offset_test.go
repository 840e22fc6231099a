package pagination

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{})

	require.NoError(t, err)
	require.Equal(t, Params{Limit: DefaultLimit}, params)
}

func TestParseValues(t *testing.T) {
	params, err := Parse(url.Values{"limit": {" 20 "}, "offset": {"40"}})

	require.NoError(t, err)
	require.Equal(t, Params{Limit: 20, Offset: 40}, params)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]url.Values{
		"limit":  {"limit": {"0"}},
		"offset": {"offset": {"-1"}},
	}
	for field, values := range cases {
		_, err := Parse(values)

		var perr ParamError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, field, perr.Field)
	}

	_, err := Parse(url.Values{"limit": {"201"}})
	require.Error(t, err)

	_, err = Parse(url.Values{"limit": {"ten"}})
	require.Error(t, err)
}

func TestNewPageEncodesEmptyItems(t *testing.T) {
	page := NewPage[string](nil, 0, Params{Limit: 10})

	encoded, err := json.Marshal(page)

	require.NoError(t, err)
	require.JSONEq(t, `{"items":[],"total":0,"limit":10,"offset":0}`, string(encoded))
}

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })

	require.Equal(t, []int{2, 4, 6}, out)
}
