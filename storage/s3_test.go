package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Watermark_Observe(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mark s3Watermark

	mark.observe("a", base)
	assert.Equal(t, base, mark.at)
	assert.Equal(t, []string{"a"}, mark.keys)

	// Same second accumulates keys without duplicates.
	mark.observe("b", base)
	mark.observe("a", base)
	assert.Equal(t, []string{"a", "b"}, mark.keys)

	// A later timestamp resets the key set.
	later := base.Add(time.Second)
	mark.observe("c", later)
	assert.Equal(t, later, mark.at)
	assert.Equal(t, []string{"c"}, mark.keys)

	// Older observations are ignored.
	mark.observe("stale", base)
	assert.Equal(t, later, mark.at)
	assert.Equal(t, []string{"c"}, mark.keys)
}

func TestS3Watermark_Newer(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mark := s3Watermark{at: base, keys: []string{"seen"}}

	assert.True(t, mark.newer("x", base.Add(time.Second)))
	assert.False(t, mark.newer("x", base.Add(-time.Second)))

	// Same second: only keys not yet recorded count as new. This is what
	// keeps second-granularity timestamps from dropping or repeating writes.
	assert.False(t, mark.newer("seen", base))
	assert.True(t, mark.newer("unseen", base))
}

func TestS3Cursor_LiveRoundTrip(t *testing.T) {
	mark := s3Watermark{
		at:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		keys: []string{"dir/file-one", "dir/with:colons"},
	}
	cursor := encodeLiveCursor("some/dir", mark)

	decoded, err := decodeS3Cursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "some/dir", decoded.path)
	assert.Empty(t, decoded.token)
	assert.True(t, decoded.mark.at.Equal(mark.at))
	assert.Equal(t, mark.keys, decoded.mark.keys)
}

func TestS3Cursor_TokenRoundTrip(t *testing.T) {
	mark := s3Watermark{at: time.Unix(1767225600, 0).UTC(), keys: []string{"k"}}
	cursor := encodeTokenCursor("dir", "opaque-continuation==", mark)

	decoded, err := decodeS3Cursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "dir", decoded.path)
	assert.Equal(t, "opaque-continuation==", decoded.token)
	assert.True(t, decoded.mark.at.Equal(mark.at))
}

func TestS3Cursor_EmptyWatermark(t *testing.T) {
	cursor := encodeLiveCursor("dir", s3Watermark{})
	decoded, err := decodeS3Cursor(cursor)
	require.NoError(t, err)
	assert.Empty(t, decoded.mark.keys)
	// Whatever the zero watermark encodes to, every real object is past it.
	assert.True(t, decoded.mark.newer("any", time.Now()))
}

func TestS3Cursor_Malformed(t *testing.T) {
	for _, cursor := range []string{
		"",
		"garbage",
		"tok:only-two",
		"ts:!!!:0",
		"ts:" + b64("dir") + ":not-a-number",
		"wrong:" + b64("dir") + ":0",
	} {
		_, err := decodeS3Cursor(cursor)
		assert.Error(t, err, "cursor %q", cursor)
	}
}

func TestS3LinkPath(t *testing.T) {
	b := &S3Backend{bucket: "bucket"}

	path, err := b.linkPath(SharedLink("s3://bucket/some/dir"))
	require.NoError(t, err)
	assert.Equal(t, "some/dir", path)

	_, err = b.linkPath(SharedLink("s3://other-bucket/some/dir"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.linkPath(SharedLink("mem://whatever"))
	assert.ErrorIs(t, err, ErrNotFound)
}
