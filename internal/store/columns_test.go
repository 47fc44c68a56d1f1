package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/domain"
)

func TestMediaKinds(t *testing.T) {
	atts := []domain.Attachment{
		{MimeType: "video/mp4"},
		{MimeType: "image/png"},
		{MimeType: "IMAGE/JPEG"},
		{MimeType: "application/zip"},
	}
	assert.Equal(t, ",file,image,video,", MediaKinds(atts))
	assert.Empty(t, MediaKinds(nil))
	assert.Equal(t, "%,image,%", KindPattern(domain.MediaKindImage))
}

func TestAttachmentsColumn(t *testing.T) {
	s, err := EncodeAttachments(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	atts, err := DecodeAttachments(s)
	require.NoError(t, err)
	assert.Nil(t, atts)

	_, err = DecodeAttachments("{")
	assert.Error(t, err)
}
