package camera_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/testutil"
)

func TestBinder_Bind(t *testing.T) {
	ctx := context.Background()
	var b camera.Binder
	sink := new(testutil.Sink)
	first := testutil.NewStream(64, 48)

	require.NoError(t, b.Bind(ctx, first, sink))
	assert.True(t, b.Bound())
	assert.True(t, sink.Playing())
	assert.Equal(t, first, sink.Source())
	assert.Equal(t, 1, sink.Attaches())

	// same pair: nothing is registered twice
	require.NoError(t, b.Bind(ctx, first, sink))
	assert.Equal(t, 1, sink.Attaches())
	assert.Zero(t, sink.Detaches())
	assert.True(t, first.Track().Live())

	// new stream: the previous one is released first
	second := testutil.NewStream(64, 48)
	require.NoError(t, b.Bind(ctx, second, sink))
	assert.False(t, first.Track().Live())
	assert.Equal(t, 1, first.Track().Stops())
	assert.True(t, second.Track().Live())
	assert.Equal(t, second, sink.Source())
	assert.Equal(t, 2, sink.Attaches())
	assert.Equal(t, 1, sink.Detaches())
}

func TestBinder_Bind_errors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(sink *testutil.Sink)
		noSink  bool
		wantErr error
	}{
		{
			name:    "sink bound elsewhere",
			prepare: func(sink *testutil.Sink) { _ = sink.Attach(testutil.NewStream(64, 48)) },
			wantErr: camera.ErrSinkBusy,
		},
		{
			name:    "playback fails",
			prepare: func(sink *testutil.Sink) { sink.PlayErr = errors.New("autoplay blocked") },
		},
		{name: "no sink", noSink: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b camera.Binder
			sink := new(testutil.Sink)
			if tt.prepare != nil {
				tt.prepare(sink)
			}
			stream := testutil.NewStream(64, 48)

			var err error
			if tt.noSink {
				err = b.Bind(context.Background(), stream, nil)
			} else {
				err = b.Bind(context.Background(), stream, sink)
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
			}
			assert.False(t, stream.Track().Live(), "the rejected stream is released")
			assert.False(t, b.Bound())
			if !tt.noSink {
				assert.NotEqual(t, stream, sink.Source())
			}
		})
	}
}

func TestBinder_Bind_busyKeepsOwner(t *testing.T) {
	var b camera.Binder
	sink := new(testutil.Sink)
	owner := testutil.NewStream(64, 48)
	require.NoError(t, sink.Attach(owner))

	assert.Equal(t, camera.ErrSinkBusy, b.Bind(context.Background(), testutil.NewStream(64, 48), sink))
	assert.True(t, owner.Track().Live())
	assert.Equal(t, owner, sink.Source())
}

func TestBinder_Unbind(t *testing.T) {
	var b camera.Binder
	b.Unbind() // never bound

	sink := new(testutil.Sink)
	stream := testutil.NewStream(64, 48)
	require.NoError(t, b.Bind(context.Background(), stream, sink))

	b.Unbind()
	b.Unbind()
	assert.False(t, b.Bound())
	assert.Nil(t, sink.Source())
	assert.False(t, sink.Playing())
	assert.Equal(t, 1, stream.Track().Stops())
	assert.Equal(t, 1, sink.Detaches())
	assert.Zero(t, camera.LiveTracks(stream))
}
