package telegram

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportFixture = `{
	"name": "Test Group",
	"type": "private_supergroup",
	"id": 1234567890,
	"messages": [
		{
			"id": 1,
			"type": "message",
			"date": "2024-01-05T10:00:00",
			"date_unixtime": "1704448800",
			"from": "Alice",
			"from_id": "user111",
			"text": "plain string text"
		},
		{
			"id": 2,
			"type": "message",
			"date": "2024-01-05T10:01:00",
			"date_unixtime": "1704448860",
			"from": "Bob",
			"from_id": "user222",
			"reply_to_message_id": 1,
			"text": ["see ", {"type": "link", "text": "https://example.com"}, " now"]
		},
		{
			"id": 3,
			"type": "service",
			"date": "2024-01-05T10:02:00",
			"date_unixtime": "1704448920",
			"actor": "Alice",
			"actor_id": "user111",
			"action": "pin_message",
			"text": ""
		},
		{
			"id": 4,
			"type": "message",
			"date": "2024-01-05T10:03:00",
			"date_unixtime": "1704448980",
			"from": "Alice",
			"from_id": "user111",
			"photo": "photos/photo_4.jpg",
			"text": ""
		},
		{
			"id": 5,
			"type": "message",
			"date": "2024-01-05T10:04:00",
			"date_unixtime": "1704449040",
			"from": "Bob",
			"from_id": "user222",
			"file": "(File not included. Change data exporting settings to download.)",
			"text": "missing attachment"
		},
		{
			"id": 6,
			"type": "message",
			"date": "2024-01-05T10:05:00",
			"date_unixtime": "1704449100",
			"edited": "2024-01-05T11:00:00",
			"edited_unixtime": "1704452400",
			"from": "Alice",
			"from_id": "user111",
			"poll": {
				"question": "lunch?",
				"closed": true,
				"total_voters": 3,
				"answers": [
					{"text": "yes", "voters": 2, "chosen": true},
					{"text": "no", "voters": 1, "chosen": false}
				]
			},
			"text": ""
		},
		{
			"id": 7,
			"type": "message",
			"date": "2024-01-05T10:06:00",
			"date_unixtime": "1704449160",
			"from": "Bob",
			"from_id": "user222",
			"file": "files/report.pdf",
			"file_name": "report.pdf",
			"mime_type": "application/pdf",
			"file_size": 1234,
			"thumbnail": "files/report.pdf_thumb.jpg",
			"media_type": "document",
			"text": ""
		}
	]
}`

func writeExport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte(exportFixture), 0644))
	return dir
}

func loadExport(t *testing.T) *ExportClient {
	t.Helper()
	c, err := NewExportClient(writeExport(t), nil)
	require.NoError(t, err)
	return c
}

func TestExportGroup(t *testing.T) {
	c := loadExport(t)
	g, err := c.Group(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test Group", g.Title)
	assert.EqualValues(t, 1234567890, g.ID)
}

func TestExportHistoryPaging(t *testing.T) {
	c := loadExport(t)

	first, err := c.History(context.Background(), 0, 3)
	require.NoError(t, err)
	require.Len(t, first.Messages, 3)
	assert.EqualValues(t, 1, first.Messages[0].ID)
	assert.EqualValues(t, 3, first.Messages[2].ID)

	rest, err := c.History(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, rest.Messages, 4)
	assert.EqualValues(t, 4, rest.Messages[0].ID)

	empty, err := c.History(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
}

func TestExportTextForms(t *testing.T) {
	c := loadExport(t)
	b, err := c.History(context.Background(), 0, 2)
	require.NoError(t, err)

	assert.Equal(t, "plain string text", b.Messages[0].Text)
	assert.Equal(t, "see https://example.com now", b.Messages[1].Text,
		"entity lists flatten to their text parts")
	assert.EqualValues(t, 1, b.Messages[1].ReplyTo)
}

func TestExportServiceMessage(t *testing.T) {
	c := loadExport(t)
	b, err := c.Lookup(context.Background(), []int64{3})
	require.NoError(t, err)
	require.Len(t, b.Messages, 1)

	m := b.Messages[0]
	assert.Equal(t, KindService, m.Kind)
	assert.EqualValues(t, 111, m.SenderID)
	assert.Equal(t, "pin message", m.Text)
}

func TestExportUsers(t *testing.T) {
	c := loadExport(t)
	b, err := c.History(context.Background(), 0, 10)
	require.NoError(t, err)

	require.Contains(t, b.Users, int64(111))
	require.Contains(t, b.Users, int64(222))
	assert.Equal(t, "Alice", b.Users[111].FirstName)
}

func TestExportMediaReferences(t *testing.T) {
	c := loadExport(t)
	b, err := c.Lookup(context.Background(), []int64{4, 5, 7})
	require.NoError(t, err)
	require.Len(t, b.Messages, 3)

	photo := b.Messages[0]
	require.NotNil(t, photo.File)
	assert.Equal(t, "photo", photo.File.Kind)
	assert.Equal(t, "photos/photo_4.jpg", photo.File.Path)

	assert.Nil(t, b.Messages[1].File, "not-included placeholder is no file reference")

	doc := b.Messages[2]
	require.NotNil(t, doc.File)
	assert.Equal(t, "document", doc.File.Kind)
	assert.Equal(t, "report.pdf", doc.File.Name)
	assert.Equal(t, "application/pdf", doc.File.MIME)
	assert.EqualValues(t, 1234, doc.File.Size)
	assert.True(t, doc.File.HasThumb())
}

func TestExportPoll(t *testing.T) {
	c := loadExport(t)
	b, err := c.Lookup(context.Background(), []int64{6})
	require.NoError(t, err)
	require.Len(t, b.Messages, 1)

	m := b.Messages[0]
	require.NotNil(t, m.Poll)
	assert.Equal(t, "lunch?", m.Poll.Question)
	assert.Equal(t, 3, m.Poll.TotalVoters)
	require.Len(t, m.Poll.Answers, 2)
	assert.Equal(t, 2, m.Poll.Answers[0].Votes)
	assert.True(t, m.Poll.Answers[0].Chosen)
	assert.False(t, m.EditDate.IsZero(), "edit timestamp carried through")
}

func TestExportOpenMedia(t *testing.T) {
	dir := writeExport(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "photos"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photos", "photo_4.jpg"), []byte("jpeg"), 0644))

	c, err := NewExportClient(dir, nil)
	require.NoError(t, err)

	b, err := c.Lookup(context.Background(), []int64{4})
	require.NoError(t, err)
	rc, err := c.OpenMedia(context.Background(), b.Messages[0].File)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "jpeg", string(data))
}

func TestExportOpenMediaRejectsTraversal(t *testing.T) {
	c := loadExport(t)
	_, err := c.OpenMedia(context.Background(), &File{ID: 1, Path: "../secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestExportSkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	malformed := `{"name": "g", "id": 1, "messages": [
		{"id": 1, "type": "message", "date_unixtime": "1704448800", "from_id": "user1", "text": "good"},
		{"id": 0, "type": "message", "date_unixtime": "1704448801", "text": "no id"},
		{"id": 2, "type": "message", "text": "no date"}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte(malformed), 0644))

	c, err := NewExportClient(dir, nil)
	require.NoError(t, err)

	b, err := c.History(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, b.Messages, 1)
	assert.EqualValues(t, 1, b.Messages[0].ID)
}

func TestExportNoAvatars(t *testing.T) {
	c := loadExport(t)
	_, err := c.OpenAvatar(context.Background(), 111, 64)
	assert.ErrorIs(t, err, ErrNoAvatar)
}
