package cmcd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Keys
	}{
		{
			name:     "integers and strings",
			input:    "br=2000,sf=h,ts=1678886400000",
			expected: Keys{"br": int64(2000), "sf": "h", "ts": int64(1678886400000)},
		},
		{
			name:     "bare keys are true flags",
			input:    "sf,bs,rtp=100",
			expected: Keys{"sf": true, "bs": true, "rtp": int64(100)},
		},
		{
			name:     "quoted string is unquoted",
			input:    `nor="foo.m4a"`,
			expected: Keys{"nor": "foo.m4a"},
		},
		{
			name:     "quoted string may contain commas",
			input:    `cid="a,b",br=1`,
			expected: Keys{"cid": "a,b", "br": int64(1)},
		},
		{
			name:     "floats",
			input:    "pr=1.25,bl=.5,x=-0.75",
			expected: Keys{"pr": 1.25, "bl": 0.5, "x": -0.75},
		},
		{
			name:     "negative integer",
			input:    "dl=-200",
			expected: Keys{"dl": int64(-200)},
		},
		{
			name:     "booleans are case insensitive",
			input:    "su=TRUE,bs=False",
			expected: Keys{"su": true, "bs": false},
		},
		{
			name:     "quoted number is still typed",
			input:    `br="3000"`,
			expected: Keys{"br": int64(3000)},
		},
		{
			name:     "empty value is an empty string",
			input:    "cid=",
			expected: Keys{"cid": ""},
		},
		{
			name:     "last duplicate wins",
			input:    "br=1,br=2",
			expected: Keys{"br": int64(2)},
		},
		{
			name:     "malformed tokens are skipped",
			input:    "br=1,-x=2,=3,a-b,ot=v",
			expected: Keys{"br": int64(1), "ot": "v"},
		},
		{
			name:     "unterminated quote falls back to raw run",
			input:    `sid="abc,br=5`,
			expected: Keys{"sid": `"abc`, "br": int64(5)},
		},
		{
			name:     "surrounding whitespace ignored",
			input:    "br=1, sf=d ,bs",
			expected: Keys{"br": int64(1), "sf": "d", "bs": true},
		},
		{
			name:     "version-like value stays a string",
			input:    "v=1.2.3",
			expected: Keys{"v": "1.2.3"},
		},
		{
			name:     "integer overflow becomes float",
			input:    "n=99999999999999999999",
			expected: Keys{"n": 1e20},
		},
		{
			name:     "empty input",
			input:    "",
			expected: Keys{},
		},
		{
			name:     "only separators",
			input:    ",,,",
			expected: Keys{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	inputs := []string{
		"br=2000,sf=h,ts=1678886400000",
		"sf,bs,rtp=100",
		`nor="foo.m4a"`,
		`cid="a,b",pr=1.5,su=false`,
		"bl=2.0,d=4004,ot=v,sid=6e2fb550-c457-11e9-bb97-0800200c9a66",
		`cid=""`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first := Parse(in)
			assert.Equal(t, first, Parse(Format(first)))
		})
	}
}

func TestFormat(t *testing.T) {
	out := Format(Keys{"br": int64(3200), "bs": true, "pr": 2.0, "ot": "v", "su": false, "cid": "a,b"})
	assert.Equal(t, `br=3200,bs,cid="a,b",ot=v,pr=2.0,su=false`, out)
}

func TestFromJSON_RoundTripThroughJSON(t *testing.T) {
	parsed := Parse("br=2000,pr=1.5,sf=h,bs,su=false")

	raw, err := json.Marshal(parsed)
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	require.NoError(t, dec.Decode(&obj))

	assert.Equal(t, parsed, FromJSON(obj))
}

func TestFromJSON_PlainFloats(t *testing.T) {
	keys := FromJSON(map[string]any{"br": float64(2000), "pr": 1.5, "ot": "v"})
	assert.Equal(t, Keys{"br": int64(2000), "pr": 1.5, "ot": "v"}, keys)
}

func TestFloat(t *testing.T) {
	f, ok := Float(int64(10))
	assert.True(t, ok)
	assert.Equal(t, 10.0, f)

	_, ok = Float("10")
	assert.False(t, ok)
}
