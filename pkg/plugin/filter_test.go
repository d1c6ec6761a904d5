package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterKind(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterKind
		wantErr bool
	}{
		{"", FilterClosed, false},
		{"closed", FilterClosed, false},
		{"Entire", FilterEntire, false},
		{"all", FilterEntire, false},
		{"etherframe", FilterEtherFrame, false},
		{"header", FilterEtherFrame, false},
		{"PAYLOAD", FilterPayload, false},
		{"bogus", FilterClosed, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilterKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFilterNilChannelIsClosed(t *testing.T) {
	f := NewFilter(FilterEntire, nil)
	assert.True(t, f.IsClosed())
	assert.Equal(t, FilterClosed, f.Kind())
	assert.Nil(t, f.Channel())
}

func TestFilterSelect(t *testing.T) {
	whole := []byte{1, 2, 3, 4}
	header := whole[:2]
	payload := whole[2:]
	ch := make(chan Frame, 1)

	b, ok := Entire(ch).Select(whole, header, payload)
	require.True(t, ok)
	assert.Equal(t, whole, b)

	b, ok = EtherFrame(ch).Select(whole, header, payload)
	require.True(t, ok)
	assert.Equal(t, header, b)

	b, ok = Payload(ch).Select(whole, header, payload)
	require.True(t, ok)
	assert.Equal(t, payload, b)

	_, ok = Closed().Select(whole, header, payload)
	assert.False(t, ok)

	_, ok = Payload(ch).Select(whole, nil, nil)
	assert.False(t, ok, "missing part is not delivered")
}

func TestFrameClone(t *testing.T) {
	f := NewFrame([]byte{0xde, 0xad})
	c := f.Clone()
	c[0] = 0

	assert.Equal(t, byte(0xde), f.Bytes()[0])
	assert.Equal(t, 2, f.Len())
}

func TestFilterKindString(t *testing.T) {
	assert.Equal(t, "etherframe", FilterEtherFrame.String())
	assert.Equal(t, "FilterKind(9)", FilterKind(9).String())
}
